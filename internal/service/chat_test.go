package service

import (
	"context"
	"database/sql"
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

type chatFixture struct {
	db       *sql.DB
	chat     *ChatService
	chatter  *llm.MockProvider
	analyzer *llm.MockProvider
	limiter  *RateLimiter
}

// newChatFixture wires a full chat pipeline against sqlite with separate
// mock providers for replies and for the extraction/sentiment calls.
func newChatFixture(t *testing.T) *chatFixture {
	t.Helper()
	db := newTestDB(t)
	logger := zap.NewNop()

	chatter := llm.NewMockProvider()
	chatter.Response = "Hello there!"
	analyzer := llm.NewMockProvider()
	analyzer.Response = "[]"

	manager := NewMemoryManager(
		store.NewMemoryStore(db),
		store.NewEmbeddingStore(db),
		embedding.NewMockClient(4),
		NewMemoryExtractor(analyzer, logger),
		logger,
	)
	limiter := NewRateLimiter(time.Minute, 100, nil)

	chat := NewChatService(
		store.NewUserStore(db),
		store.NewRoleStore(db),
		store.NewConversationStore(db),
		manager,
		NewSentimentAnalyzer(analyzer, logger),
		llm.NewRouter([]domain.ModelProvider{chatter}, logger),
		limiter,
		10,
		logger,
	)
	return &chatFixture{db: db, chat: chat, chatter: chatter, analyzer: analyzer, limiter: limiter}
}

func TestChatHandleFullTurn(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	reply, err := f.chat.Handle(ctx, 1, "ada", "hello!")
	require.NoError(t, err)
	f.chat.Wait()

	assert.Equal(t, "Hello there!", reply.Text)
	assert.Equal(t, "mock", reply.Provider)
	assert.Zero(t, reply.RoleID, "no persona selected yet")

	// The user row exists and the turn landed in the conversation log.
	u, err := store.NewUserStore(f.db).GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ada", u.Username)

	history, err := store.NewConversationStore(f.db).Recent(ctx, 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hello!", history[0].UserText)
	assert.Equal(t, "Hello there!", history[0].BotText)
}

func TestChatHandleEmptyMessage(t *testing.T) {
	f := newChatFixture(t)
	_, err := f.chat.Handle(context.Background(), 1, "ada", "")
	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestChatHandleRateLimited(t *testing.T) {
	f := newChatFixture(t)
	f.limiter.Configure(time.Minute, 1)
	ctx := context.Background()

	_, err := f.chat.Handle(ctx, 1, "ada", "first")
	require.NoError(t, err)

	_, err = f.chat.Handle(ctx, 1, "ada", "second")
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
	f.chat.Wait()
}

func TestChatHandleAdminSkipsLimiter(t *testing.T) {
	f := newChatFixture(t)
	f.limiter.Configure(time.Minute, 1)
	ctx := context.Background()

	_, err := store.NewUserStore(f.db).GetOrCreate(ctx, 9, "root", "", "", "en")
	require.NoError(t, err)
	require.NoError(t, store.NewUserStore(f.db).SetAdmin(ctx, 9, true))

	for i := 0; i < 3; i++ {
		_, err := f.chat.Handle(ctx, 9, "root", "ping")
		require.NoError(t, err)
	}
	f.chat.Wait()
}

func TestChatHandleUsesSelectedRole(t *testing.T) {
	f := newChatFixture(t)
	ctx := context.Background()

	users := store.NewUserStore(f.db)
	roles := store.NewRoleStore(f.db)
	require.NoError(t, roles.SeedDefaults(ctx))
	listed, err := roles.List(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, listed)

	_, err = users.GetOrCreate(ctx, 1, "ada", "", "", "en")
	require.NoError(t, err)
	require.NoError(t, users.SetCurrentRole(ctx, 1, listed[0].ID))

	reply, err := f.chat.Handle(ctx, 1, "ada", "hi")
	require.NoError(t, err)
	f.chat.Wait()
	assert.Equal(t, listed[0].ID, reply.RoleID)
}

func TestChatHandleProviderFailure(t *testing.T) {
	f := newChatFixture(t)
	f.chatter.Err = domain.E(domain.KindProvider, "model down")

	_, err := f.chat.Handle(context.Background(), 1, "ada", "hi")
	require.Error(t, err)
	assert.Equal(t, domain.KindProvider, domain.KindOf(err))
	f.chat.Wait()
}

func TestChatHandleIngestsFacts(t *testing.T) {
	f := newChatFixture(t)
	// Extraction and sentiment share the analyzer mock; the global response
	// answers both, and an array satisfies the extractor while the sentiment
	// parser falls back to neutral.
	f.analyzer.Response = `[{"content":"has two cats","category":"personal","importance":3}]`
	ctx := context.Background()

	_, err := f.chat.Handle(ctx, 1, "ada", "I have two cats")
	require.NoError(t, err)
	f.chat.Wait()

	listed, err := store.NewMemoryStore(f.db).List(ctx, 1, domain.MemoryFilter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "has two cats", listed[0].Content)
	assert.Equal(t, domain.SourceExtracted, listed[0].Source)
}

func TestMaintenanceRunOnce(t *testing.T) {
	db := newTestDB(t)
	seedTestUser(t, db, 1)
	ctx := context.Background()

	memories := store.NewMemoryStore(db)
	index := store.NewEmbeddingStore(db)

	for _, content := range []string{"likes hiking", "hikes every weekend"} {
		m := &domain.Memory{UserID: 1, Content: content, Importance: 3}
		_, err := memories.Add(ctx, m)
		require.NoError(t, err)
		require.NoError(t, index.Upsert(ctx, m.ID, []float32{1, 0}))
	}
	addAgedMemory(t, db, 1, "old trivia", 3, 60*24*time.Hour)

	provider := llm.NewMockProvider()
	provider.Response = "The user is a regular hiker."
	router := llm.NewRouter([]domain.ModelProvider{provider}, zap.NewNop())

	logger := zap.NewNop()
	consolidator := NewConsolidator(memories, index, store.NewConsolidationStore(db),
		store.NewSummaryStore(db), router, ConsolidatorConfig{MarkSources: true}, logger)
	decay := NewDecayEngine(memories, logger)

	scheduler := NewMaintenanceScheduler(memories, store.NewConversationStore(db),
		consolidator, decay, nil, db, time.Hour, logger)

	require.NoError(t, scheduler.RunOnce(ctx))

	listed, err := memories.List(ctx, 1, domain.MemoryFilter{})
	require.NoError(t, err)

	foundConsolidated, foundDecayed := false, false
	for _, m := range listed {
		if m.Source == domain.SourceConsolidation {
			foundConsolidated = true
		}
		if m.Content == "old trivia" && m.Importance == 2 {
			foundDecayed = true
		}
	}
	assert.True(t, foundConsolidated, "hiking memories merged into one")
	assert.True(t, foundDecayed, "stale memory lost importance")
}
