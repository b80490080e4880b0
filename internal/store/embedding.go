package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/mnema-ai/mnema/internal/embedding"
)

// EmbeddingStore persists vectors as little-endian float32 blobs keyed by
// memory id and answers brute-force cosine queries scoped to one user.
// Expected scale is at most a few thousand vectors per user, so a full scan
// is fine.
type EmbeddingStore struct {
	db *sql.DB
}

func NewEmbeddingStore(db *sql.DB) *EmbeddingStore {
	return &EmbeddingStore{db: db}
}

func (s *EmbeddingStore) Upsert(ctx context.Context, memoryID int64, vec []float32) error {
	now := toUnix(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_embeddings (memory_id, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(memory_id) DO UPDATE SET embedding = excluded.embedding, updated_at = excluded.updated_at`,
		memoryID, embedding.EncodeVector(vec), now, now)
	return wrapDB("INSERT INTO memory_embeddings", err)
}

func (s *EmbeddingStore) Get(ctx context.Context, memoryID int64) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding FROM memory_embeddings WHERE memory_id = ?`, memoryID,
	).Scan(&blob)
	if err != nil {
		return nil, wrapDB("SELECT memory_embeddings", err)
	}
	return embedding.DecodeVector(blob), nil
}

func (s *EmbeddingStore) GetMany(ctx context.Context, memoryIDs []int64) (map[int64][]float32, error) {
	out := make(map[int64][]float32, len(memoryIDs))
	if len(memoryIDs) == 0 {
		return out, nil
	}
	query := fmt.Sprintf(
		`SELECT memory_id, embedding FROM memory_embeddings WHERE memory_id IN (%s)`,
		placeholders(len(memoryIDs)))
	rows, err := s.db.QueryContext(ctx, query, int64Args(memoryIDs)...)
	if err != nil {
		return nil, wrapDB("SELECT memory_embeddings (many)", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id   int64
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, wrapDB("scan embedding row", err)
		}
		out[id] = embedding.DecodeVector(blob)
	}
	return out, wrapDB("embedding rows", rows.Err())
}

func (s *EmbeddingStore) Delete(ctx context.Context, memoryID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_embeddings WHERE memory_id = ?`, memoryID)
	return wrapDB("DELETE FROM memory_embeddings", err)
}

// Search scans every embedding owned by userID and returns the top limit
// hits scoring at least minSimilarity, best first. Ties break on memory id
// descending so newer memories win and results stay deterministic.
func (s *EmbeddingStore) Search(ctx context.Context, userID int64, query []float32, limit int, minSimilarity float64) ([]domain.SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT e.memory_id, e.embedding
		 FROM memory_embeddings e JOIN memories m ON m.memory_id = e.memory_id
		 WHERE m.user_id = ?`, userID)
	if err != nil {
		return nil, wrapDB("SELECT memory_embeddings (search)", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []domain.SearchHit
	for rows.Next() {
		var (
			id   int64
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, wrapDB("scan embedding row", err)
		}
		score := embedding.Cosine(query, embedding.DecodeVector(blob))
		if score >= minSimilarity {
			hits = append(hits, domain.SearchHit{MemoryID: id, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB("embedding rows", err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].MemoryID > hits[j].MemoryID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
