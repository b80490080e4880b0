package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsolidationStore_EdgesAndLogAgree(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, 1)
	memories := NewMemoryStore(db)
	s := NewConsolidationStore(db)
	ctx := context.Background()

	var sources []int64
	for _, content := range []string{"a", "b", "c"} {
		m := &domain.Memory{UserID: 1, Content: content, Importance: 3}
		_, err := memories.Add(ctx, m)
		require.NoError(t, err)
		sources = append(sources, m.ID)
	}
	merged := &domain.Memory{UserID: 1, Content: "merged", Importance: 3, Source: domain.SourceConsolidation}
	_, err := memories.Add(ctx, merged)
	require.NoError(t, err)

	for _, id := range sources {
		require.NoError(t, s.AddEdge(ctx, id, merged.ID))
	}
	// Idempotent: replaying an edge is a no-op.
	require.NoError(t, s.AddEdge(ctx, sources[0], merged.ID))

	entry := &domain.ConsolidationLogEntry{
		RunID:                uuid.NewString(),
		UserID:               1,
		SourceMemoryIDs:      sources,
		ConsolidatedMemoryID: merged.ID,
		ConsolidationType:    "cluster",
	}
	require.NoError(t, s.AppendLog(ctx, entry))
	require.NotZero(t, entry.ID)

	got, err := s.SourcesOf(ctx, merged.ID)
	require.NoError(t, err)
	assert.Equal(t, sources, got)

	// The logged JSON id list matches the edge set.
	var raw string
	require.NoError(t, db.QueryRow(
		`SELECT source_memories FROM memory_consolidation_log WHERE log_id = ?`, entry.ID).Scan(&raw))
	var logged []int64
	require.NoError(t, json.Unmarshal([]byte(raw), &logged))
	assert.ElementsMatch(t, got, logged)
}
