package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
)

type ConsolidationStore struct {
	db *sql.DB
}

func NewConsolidationStore(db *sql.DB) *ConsolidationStore {
	return &ConsolidationStore{db: db}
}

func (s *ConsolidationStore) AddEdge(ctx context.Context, originalID, consolidatedID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_consolidations (original_memory_id, consolidated_memory_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(original_memory_id, consolidated_memory_id) DO NOTHING`,
		originalID, consolidatedID, toUnix(time.Now()))
	return wrapDB("INSERT INTO memory_consolidations", err)
}

func (s *ConsolidationStore) SourcesOf(ctx context.Context, consolidatedID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT original_memory_id FROM memory_consolidations
		 WHERE consolidated_memory_id = ? ORDER BY original_memory_id`,
		consolidatedID)
	if err != nil {
		return nil, wrapDB("SELECT memory_consolidations", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDB("scan consolidation row", err)
		}
		ids = append(ids, id)
	}
	return ids, wrapDB("consolidation rows", rows.Err())
}

func (s *ConsolidationStore) AppendLog(ctx context.Context, e *domain.ConsolidationLogEntry) error {
	sources, err := json.Marshal(e.SourceMemoryIDs)
	if err != nil {
		return domain.Wrap(domain.KindQuery, "encode source memory ids", err)
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_consolidation_log (run_id, user_id, source_memories, consolidated_memory_id, consolidation_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.RunID, e.UserID, string(sources), e.ConsolidatedMemoryID, e.ConsolidationType, toUnix(now))
	if err != nil {
		return wrapDB("INSERT INTO memory_consolidation_log", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDB("INSERT INTO memory_consolidation_log", err)
	}
	e.ID = id
	e.CreatedAt = now
	return nil
}
