package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/mnema-ai/mnema/internal/embedding"
	"github.com/mnema-ai/mnema/internal/llm"
	"github.com/mnema-ai/mnema/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Init(context.Background(), db))
	return db
}

func seedTestUser(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	_, err := store.NewUserStore(db).GetOrCreate(context.Background(), id, "tester", "", "", "en")
	require.NoError(t, err)
}

func newTestManager(t *testing.T, db *sql.DB, embedder domain.EmbeddingClient, provider domain.ModelProvider) *MemoryManager {
	t.Helper()
	logger := zap.NewNop()
	return NewMemoryManager(
		store.NewMemoryStore(db),
		store.NewEmbeddingStore(db),
		embedder,
		NewMemoryExtractor(provider, logger),
		logger,
	)
}

func TestScorePoolDefaultWeights(t *testing.T) {
	now := time.Now()
	pool := []domain.Memory{
		{ID: 1, Importance: 5, CreatedAt: now.Add(-time.Hour)},
		{ID: 2, Importance: 1, CreatedAt: now},
	}
	sims := map[int64]float64{1: 1.0, 2: 0.0}

	scored := scorePool(pool, sims, DefaultRecencyWeight)
	require.Len(t, scored, 2)

	// w=0.2 splits 0.5 semantic / 0.3 importance / 0.2 recency.
	assert.Equal(t, int64(1), scored[0].ID)
	assert.InDelta(t, 0.5*1.0+0.3*1.0+0.2*0.0, scored[0].Score, 1e-9)
	assert.InDelta(t, 0.5*0.0+0.3*0.2+0.2*1.0, scored[1].Score, 1e-9)
}

func TestScorePoolRecencyWeightHonored(t *testing.T) {
	now := time.Now()
	pool := []domain.Memory{
		{ID: 1, Importance: 3, CreatedAt: now.Add(-time.Hour)},
		{ID: 2, Importance: 3, CreatedAt: now},
	}

	// With recency dominating, the newer memory wins despite equal
	// importance and no semantic scores.
	scored := scorePool(pool, map[int64]float64{}, 0.9)
	assert.Equal(t, int64(2), scored[0].ID)
}

func TestScorePoolTieBreaksOnNewerID(t *testing.T) {
	now := time.Now()
	pool := []domain.Memory{
		{ID: 1, Importance: 3, CreatedAt: now},
		{ID: 2, Importance: 3, CreatedAt: now},
	}
	scored := scorePool(pool, map[int64]float64{}, DefaultRecencyWeight)
	assert.Equal(t, int64(2), scored[0].ID)
	assert.Equal(t, int64(1), scored[1].ID)
}

func TestScorePoolUniformAgePool(t *testing.T) {
	now := time.Now()
	pool := []domain.Memory{
		{ID: 1, Importance: 2, CreatedAt: now},
		{ID: 2, Importance: 4, CreatedAt: now},
	}
	scored := scorePool(pool, map[int64]float64{}, DefaultRecencyWeight)
	// Zero time range means full recency credit for everyone; importance
	// decides.
	assert.Equal(t, int64(2), scored[0].ID)
}

func TestFormatForPrompt(t *testing.T) {
	memories := []domain.Memory{
		{Content: "has a dog named Rex", Category: "personal", Importance: 3},
		{Content: "allergic to peanuts", Category: "health", Importance: 5},
		{Content: "likes jazz", Category: "", Importance: 2},
	}

	out := FormatForPrompt(memories, 0)
	assert.Equal(t,
		"User Memory Context:\n"+
			"Health [I:5]: allergic to peanuts\n"+
			"Personal [I:3]: has a dog named Rex\n"+
			"General [I:2]: likes jazz\n",
		out)

	assert.Empty(t, FormatForPrompt(nil, 100))
}

func TestFormatForPromptTruncates(t *testing.T) {
	memories := []domain.Memory{
		{Content: "a very long story about the user's childhood summers", Category: "personal", Importance: 3},
	}
	out := FormatForPrompt(memories, 40)
	runes := []rune(out)
	assert.Len(t, runes, 40)
	assert.Equal(t, '…', runes[39])
}

func TestRetrieveSemantic(t *testing.T) {
	db := newTestDB(t)
	seedTestUser(t, db, 1)
	ctx := context.Background()

	embedder := embedding.NewMockClient(4)
	embedder.Vectors["what should I cook tonight?"] = []float32{1, 0, 0, 0}

	mgr := newTestManager(t, db, embedder, nil)
	memories := store.NewMemoryStore(db)
	index := store.NewEmbeddingStore(db)

	seed := []struct {
		content    string
		importance int
		vec        []float32
	}{
		{"loves making fresh pasta", 3, []float32{0.95, 0.05, 0, 0}},
		{"enjoys italian cooking", 2, []float32{0.9, 0.1, 0, 0}},
		{"works as an accountant", 4, []float32{0, 0, 1, 0}},
		{"afraid of spiders", 3, []float32{0, 0, 0, 1}},
	}
	for _, s := range seed {
		m := &domain.Memory{UserID: 1, Content: s.content, Importance: s.importance}
		_, err := memories.Add(ctx, m)
		require.NoError(t, err)
		require.NoError(t, index.Upsert(ctx, m.ID, s.vec))
	}

	got, err := mgr.Retrieve(ctx, 1, "what should I cook tonight?", RetrieveOptions{
		MaxMemories: 2,
		UseSemantic: true,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	contents := []string{got[0].Content, got[1].Content}
	assert.Contains(t, contents, "loves making fresh pasta")
	assert.Contains(t, contents, "enjoys italian cooking")

	// Winners get their last_accessed bumped.
	fresh, err := memories.GetByID(ctx, got[0].ID)
	require.NoError(t, err)
	assert.False(t, fresh.LastAccessed.IsZero())
}

func TestRetrieveFallsBackToRecency(t *testing.T) {
	db := newTestDB(t)
	seedTestUser(t, db, 1)
	ctx := context.Background()

	embedder := embedding.NewMockClient(4)
	embedder.Err = assert.AnError

	mgr := newTestManager(t, db, embedder, nil)
	memories := store.NewMemoryStore(db)

	for _, content := range []string{"first fact", "second fact"} {
		_, err := memories.Add(ctx, &domain.Memory{UserID: 1, Content: content, Importance: 3})
		require.NoError(t, err)
	}

	got, err := mgr.Retrieve(ctx, 1, "anything", RetrieveOptions{UseSemantic: true})
	require.NoError(t, err)
	assert.Len(t, got, 2, "embedding failure degrades to the recency listing")
}

func TestRetrieveEmptyStore(t *testing.T) {
	db := newTestDB(t)
	seedTestUser(t, db, 1)

	mgr := newTestManager(t, db, embedding.NewMockClient(4), nil)
	got, err := mgr.Retrieve(context.Background(), 1, "anything", RetrieveOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIngestStoresAndEmbeds(t *testing.T) {
	db := newTestDB(t)
	seedTestUser(t, db, 1)
	ctx := context.Background()

	provider := llm.NewMockProvider()
	provider.Response = `[
		{"content":"plays the violin","category":"hobbies","importance":3},
		{"content":"lives in Porto","category":"personal","importance":4}
	]`
	embedder := embedding.NewMockClient(4)
	mgr := newTestManager(t, db, embedder, provider)

	stored := mgr.Ingest(ctx, 1, "I play violin and live in Porto", "")
	require.Len(t, stored, 2)
	mgr.Wait()

	memories := store.NewMemoryStore(db)
	listed, err := memories.List(ctx, 1, domain.MemoryFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, m := range listed {
		assert.Equal(t, domain.SourceExtracted, m.Source)
		assert.InDelta(t, 0.8, m.Confidence, 1e-9)
	}

	index := store.NewEmbeddingStore(db)
	for _, m := range listed {
		_, err := index.Get(ctx, m.ID)
		assert.NoError(t, err, "each fresh memory gets an embedding")
	}
}

func TestIngestReinforceSkipsEmbedding(t *testing.T) {
	db := newTestDB(t)
	seedTestUser(t, db, 1)
	ctx := context.Background()

	provider := llm.NewMockProvider()
	provider.Response = `[{"content":"plays the violin","category":"hobbies","importance":3}]`
	embedder := embedding.NewMockClient(4)
	mgr := newTestManager(t, db, embedder, provider)

	mgr.Ingest(ctx, 1, "I play violin", "")
	mgr.Wait()
	embedsAfterFirst := len(embedder.EmbedCalls)

	mgr.Ingest(ctx, 1, "I play violin", "")
	mgr.Wait()
	assert.Equal(t, embedsAfterFirst, len(embedder.EmbedCalls),
		"a reinforced duplicate keeps its existing embedding")

	listed, err := store.NewMemoryStore(db).List(ctx, 1, domain.MemoryFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, 2, listed[0].RecallCount)
}

func TestReinforceClampsToCap(t *testing.T) {
	db := newTestDB(t)
	seedTestUser(t, db, 1)
	ctx := context.Background()

	mgr := newTestManager(t, db, embedding.NewMockClient(4), nil)
	memories := store.NewMemoryStore(db)

	m := &domain.Memory{UserID: 1, Content: "core belief", Importance: 5}
	_, err := memories.Add(ctx, m)
	require.NoError(t, err)

	require.NoError(t, mgr.Reinforce(ctx, m.ID, 100))
	got, err := memories.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReinforcedImportanceCap, got.Importance)

	require.NoError(t, mgr.Reinforce(ctx, m.ID, -100))
	got, err = memories.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MinImportance, got.Importance)
}

func TestForgetRemovesMemoryAndEmbedding(t *testing.T) {
	db := newTestDB(t)
	seedTestUser(t, db, 1)
	ctx := context.Background()

	mgr := newTestManager(t, db, embedding.NewMockClient(4), nil)
	memories := store.NewMemoryStore(db)
	index := store.NewEmbeddingStore(db)

	m := &domain.Memory{UserID: 1, Content: "ephemeral", Importance: 2}
	_, err := memories.Add(ctx, m)
	require.NoError(t, err)
	require.NoError(t, index.Upsert(ctx, m.ID, []float32{1, 0}))

	require.NoError(t, mgr.Forget(ctx, m.ID))

	_, err = memories.GetByID(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = index.Get(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// Forgetting a memory that never had an embedding still works.
	m2 := &domain.Memory{UserID: 1, Content: "never embedded", Importance: 2}
	_, err = memories.Add(ctx, m2)
	require.NoError(t, err)
	require.NoError(t, mgr.Forget(ctx, m2.ID))
}
