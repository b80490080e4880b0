package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
)

type RelationshipStore struct {
	db *sql.DB
}

func NewRelationshipStore(db *sql.DB) *RelationshipStore {
	return &RelationshipStore{db: db}
}

func (s *RelationshipStore) Add(ctx context.Context, r *domain.MemoryRelationship) error {
	if r.Strength < 0 {
		r.Strength = 0
	}
	if r.Strength > 1 {
		r.Strength = 1
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_relationships (source_memory_id, target_memory_id, relationship_type, strength, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.SourceMemoryID, r.TargetMemoryID, r.Type, r.Strength, toUnix(now))
	if err != nil {
		return wrapDB("INSERT INTO memory_relationships", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapDB("INSERT INTO memory_relationships", err)
	}
	r.ID = id
	r.CreatedAt = now
	return nil
}

// Neighbors returns the direct outgoing edges of memoryID. Depth is always
// one; the graph is never walked recursively.
func (s *RelationshipStore) Neighbors(ctx context.Context, memoryID int64) ([]domain.MemoryRelationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT relationship_id, source_memory_id, target_memory_id, relationship_type, strength, created_at
		 FROM memory_relationships WHERE source_memory_id = ?
		 ORDER BY strength DESC, relationship_id DESC`,
		memoryID)
	if err != nil {
		return nil, wrapDB("SELECT memory_relationships", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []domain.MemoryRelationship
	for rows.Next() {
		var (
			e  domain.MemoryRelationship
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.SourceMemoryID, &e.TargetMemoryID, &e.Type, &e.Strength, &ts); err != nil {
			return nil, wrapDB("scan relationship row", err)
		}
		e.CreatedAt = fromUnix(ts)
		edges = append(edges, e)
	}
	return edges, wrapDB("relationship rows", rows.Err())
}
