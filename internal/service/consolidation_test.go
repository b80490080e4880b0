package service

import (
	"context"
	"testing"

	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/mnema-ai/mnema/internal/llm"
	"github.com/mnema-ai/mnema/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDBSCANSingleCluster(t *testing.T) {
	// Three mutually similar points and one outlier.
	sims := [][]float64{
		{1.0, 0.9, 0.85, 0.1},
		{0.9, 1.0, 0.88, 0.1},
		{0.85, 0.88, 1.0, 0.1},
		{0.1, 0.1, 0.1, 1.0},
	}
	labels := dbscan(sims, 0.25, 1)
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[1], labels[2])
	assert.Equal(t, -1, labels[3], "outlier is noise")
}

func TestDBSCANChaining(t *testing.T) {
	// a~b and b~c but a!~c: density reachability still joins all three.
	sims := [][]float64{
		{1.0, 0.8, 0.5},
		{0.8, 1.0, 0.8},
		{0.5, 0.8, 1.0},
	}
	labels := dbscan(sims, 0.25, 1)
	assert.Equal(t, labels[0], labels[1])
	assert.Equal(t, labels[1], labels[2])
}

func TestClusterBySimilaritySizeBand(t *testing.T) {
	// Six mutually similar points exceed the max cluster size and are dropped.
	n := 6
	sims := make([][]float64, n)
	for i := range sims {
		sims[i] = make([]float64, n)
		for j := range sims[i] {
			sims[i][j] = 0.9
		}
		sims[i][i] = 1
	}
	clusters := clusterBySimilarity(sims, ConsolidatorConfig{
		MinSimilarity:  0.75,
		MinClusterSize: 2,
		MaxClusterSize: 5,
	}.withDefaults())
	assert.Empty(t, clusters)
}

func TestMergedCategory(t *testing.T) {
	members := []domain.Memory{
		{Category: "hobbies"},
		{Category: "hobbies"},
		{Category: "personal"},
	}
	assert.Equal(t, "hobbies", mergedCategory(members))

	// Frequency ties go to the lexicographically smallest.
	tied := []domain.Memory{{Category: "personal"}, {Category: "hobbies"}}
	assert.Equal(t, "hobbies", mergedCategory(tied))

	assert.Equal(t, domain.DefaultCategory, mergedCategory([]domain.Memory{{Category: ""}}))
}

func TestMergedImportanceAndTags(t *testing.T) {
	members := []domain.Memory{
		{Importance: 3, Tags: []string{"cooking", "italy"}},
		{Importance: 4, Tags: []string{"cooking", "pasta"}},
	}
	assert.Equal(t, 4, mergedImportance(members)) // round(3.5)
	assert.Equal(t, []string{"cooking", "italy", "pasta"}, mergedTags(members))
}

func TestConsolidatorRun(t *testing.T) {
	db := newTestDB(t)
	seedTestUser(t, db, 1)
	ctx := context.Background()

	memories := store.NewMemoryStore(db)
	index := store.NewEmbeddingStore(db)
	edges := store.NewConsolidationStore(db)
	summaries := store.NewSummaryStore(db)

	seed := []struct {
		content string
		tags    []string
		vec     []float32
	}{
		{"enjoys cooking pasta from scratch", []string{"cooking"}, []float32{1, 0.05, 0, 0}},
		{"loves italian cuisine", []string{"italy"}, []float32{0.97, 0.1, 0, 0}},
		{"makes fresh tagliatelle on sundays", []string{"cooking", "pasta"}, []float32{0.98, 0.08, 0, 0}},
		{"is afraid of heights", nil, []float32{0, 0, 0, 1}},
	}
	sourceIDs := make(map[int64]bool)
	for i, s := range seed {
		m := &domain.Memory{UserID: 1, Content: s.content, Category: "hobbies", Importance: 3, Tags: s.tags}
		_, err := memories.Add(ctx, m)
		require.NoError(t, err)
		require.NoError(t, index.Upsert(ctx, m.ID, s.vec))
		if i < 3 {
			sourceIDs[m.ID] = true
		}
	}

	provider := llm.NewMockProvider()
	provider.Response = "The user is an enthusiastic italian home cook who makes fresh pasta."
	router := llm.NewRouter([]domain.ModelProvider{provider}, zap.NewNop())

	c := NewConsolidator(memories, index, edges, summaries, router,
		ConsolidatorConfig{MarkSources: true}, zap.NewNop())

	result, err := c.Run(ctx, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 4, result.Candidates)
	assert.Equal(t, 1, result.ClustersFound)
	assert.Equal(t, 1, result.MemoriesCreated)
	assert.Equal(t, 3, result.SourcesProcessed)
	assert.Zero(t, result.ClustersFailed)

	// The synthesized memory carries the merged metadata.
	listed, err := memories.List(ctx, 1, domain.MemoryFilter{})
	require.NoError(t, err)

	var consolidated *domain.Memory
	for i := range listed {
		if listed[i].Source == domain.SourceConsolidation {
			consolidated = &listed[i]
		}
	}
	require.NotNil(t, consolidated)
	assert.True(t, consolidated.IsConsolidated)
	assert.Equal(t, "hobbies", consolidated.Category)
	assert.Equal(t, 3, consolidated.Importance)
	assert.Equal(t, []string{"cooking", "italy", "pasta"}, consolidated.Tags)
	assert.InDelta(t, 0.9, consolidated.Confidence, 1e-9)

	// One edge per source, and the sources are flagged and annotated.
	sources, err := edges.SourcesOf(ctx, consolidated.ID)
	require.NoError(t, err)
	require.Len(t, sources, 3)
	for _, id := range sources {
		assert.True(t, sourceIDs[id])
	}
	for id := range sourceIDs {
		src, err := memories.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, src.IsConsolidated)
		assert.Contains(t, src.Context, "Consolidated into memory")
	}

	// The consolidated memory inherits a mean source embedding, and the
	// category summary is refreshed.
	vec, err := index.Get(ctx, consolidated.ID)
	require.NoError(t, err)
	assert.Len(t, vec, 4)

	summary, err := summaries.Get(ctx, 1, "hobbies")
	require.NoError(t, err)
	assert.Equal(t, provider.Response, summary.Summary)

	// The outlier is untouched.
	for i := range listed {
		if listed[i].Content == "is afraid of heights" {
			assert.False(t, listed[i].IsConsolidated)
		}
	}
}

func TestConsolidatorTooFewCandidates(t *testing.T) {
	db := newTestDB(t)
	seedTestUser(t, db, 1)
	ctx := context.Background()

	memories := store.NewMemoryStore(db)
	index := store.NewEmbeddingStore(db)

	m := &domain.Memory{UserID: 1, Content: "lonely fact", Importance: 3}
	_, err := memories.Add(ctx, m)
	require.NoError(t, err)
	require.NoError(t, index.Upsert(ctx, m.ID, []float32{1, 0}))

	router := llm.NewRouter([]domain.ModelProvider{llm.NewMockProvider()}, zap.NewNop())
	c := NewConsolidator(memories, index, store.NewConsolidationStore(db), store.NewSummaryStore(db),
		router, ConsolidatorConfig{}, zap.NewNop())

	result, err := c.Run(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Candidates)
	assert.Zero(t, result.ClustersFound)
	assert.Zero(t, result.MemoriesCreated)
}

func TestConsolidatorSynthesisFailureIsolated(t *testing.T) {
	db := newTestDB(t)
	seedTestUser(t, db, 1)
	ctx := context.Background()

	memories := store.NewMemoryStore(db)
	index := store.NewEmbeddingStore(db)

	for _, content := range []string{"likes tea", "drinks tea every morning"} {
		m := &domain.Memory{UserID: 1, Content: content, Importance: 3}
		_, err := memories.Add(ctx, m)
		require.NoError(t, err)
		require.NoError(t, index.Upsert(ctx, m.ID, []float32{1, 0}))
	}

	provider := llm.NewMockProvider()
	provider.Err = domain.E(domain.KindProvider, "model down")
	router := llm.NewRouter([]domain.ModelProvider{provider}, zap.NewNop())

	c := NewConsolidator(memories, index, store.NewConsolidationStore(db), store.NewSummaryStore(db),
		router, ConsolidatorConfig{}, zap.NewNop())

	result, err := c.Run(ctx, 1)
	require.NoError(t, err, "a failing cluster never fails the run")
	assert.Equal(t, 1, result.ClustersFound)
	assert.Equal(t, 1, result.ClustersFailed)
	assert.Zero(t, result.MemoriesCreated)
}
