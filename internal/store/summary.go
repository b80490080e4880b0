package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
)

type SummaryStore struct {
	db *sql.DB
}

func NewSummaryStore(db *sql.DB) *SummaryStore {
	return &SummaryStore{db: db}
}

func (s *SummaryStore) Upsert(ctx context.Context, userID int64, category, summary string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_summaries (user_id, summary, category, last_updated)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, category) DO UPDATE SET summary = excluded.summary, last_updated = excluded.last_updated`,
		userID, summary, category, toUnix(time.Now()))
	return wrapDB("INSERT INTO memory_summaries", err)
}

func (s *SummaryStore) Get(ctx context.Context, userID int64, category string) (*domain.MemorySummary, error) {
	m := &domain.MemorySummary{}
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT summary_id, user_id, summary, category, last_updated
		 FROM memory_summaries WHERE user_id = ? AND category = ?`,
		userID, category,
	).Scan(&m.ID, &m.UserID, &m.Summary, &m.Category, &updated)
	if err != nil {
		return nil, wrapDB("SELECT memory_summaries", err)
	}
	m.LastUpdated = fromUnix(updated)
	return m, nil
}

// GCTags deletes tag rows that no longer have any associations.
func GCTags(ctx context.Context, db *sql.DB) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM memory_tags WHERE tag_id NOT IN (SELECT DISTINCT tag_id FROM memory_tag_associations)`)
	if err != nil {
		return 0, wrapDB("DELETE FROM memory_tags (gc)", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapDB("DELETE FROM memory_tags (gc)", err)
	}
	return n, nil
}
