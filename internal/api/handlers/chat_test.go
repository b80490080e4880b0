package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/mnema-ai/mnema/internal/embedding"
	"github.com/mnema-ai/mnema/internal/llm"
	"github.com/mnema-ai/mnema/internal/service"
	"github.com/mnema-ai/mnema/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newChatHandler(t *testing.T, provider *llm.MockProvider, verbosity int) *ChatHandler {
	t.Helper()
	db := newHandlerDB(t)
	logger := zap.NewNop()

	manager := service.NewMemoryManager(store.NewMemoryStore(db), store.NewEmbeddingStore(db),
		embedding.NewMockClient(4), service.NewMemoryExtractor(nil, logger), logger)
	chat := service.NewChatService(
		store.NewUserStore(db),
		store.NewRoleStore(db),
		store.NewConversationStore(db),
		manager,
		service.NewSentimentAnalyzer(nil, logger),
		llm.NewRouter([]domain.ModelProvider{provider}, logger),
		service.NewRateLimiter(time.Minute, 100, nil),
		10,
		logger,
	)
	t.Cleanup(chat.Wait)
	return NewChatHandler(chat, verbosity, logger)
}

func postChat(h *ChatHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.Converse(rec, req)
	return rec
}

func TestChatHandlerConverse(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.Response = "Nice to meet you!"
	h := newChatHandler(t, provider, 1)

	rec := postChat(h, `{"user_id":1,"username":"ada","message":"hi there"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply service.ChatReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	assert.Equal(t, "Nice to meet you!", reply.Text)
	assert.Equal(t, "mock", reply.Provider)
}

func TestChatHandlerValidation(t *testing.T) {
	h := newChatHandler(t, llm.NewMockProvider(), 1)

	for _, body := range []string{
		`{"message":"no user"}`,
		`{"user_id":1}`,
		`garbage`,
	} {
		rec := postChat(h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body=%s", body)
	}
}

func TestChatHandlerProviderError(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.Err = domain.E(domain.KindProvider, "upstream outage")
	h := newChatHandler(t, provider, 1)

	rec := postChat(h, `{"user_id":1,"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "I'm having trouble connecting to my AI brain.", body["error"])
	assert.NotContains(t, body["error"], "upstream outage", "internal detail never leaks at verbosity 1")
}

func TestRespondErrorVerbosity(t *testing.T) {
	logger := zap.NewNop()
	err := domain.E(domain.KindRateLimited, "rate limit exceeded, retry in 7 seconds")

	rec := httptest.NewRecorder()
	respondError(rec, logger, 0, err)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, rec.Body.String(), "verbosity 0 sends the status only")

	rec = httptest.NewRecorder()
	respondError(rec, logger, 2, err)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(domain.KindRateLimited), body["kind"])
	assert.Equal(t, userMessages[domain.KindRateLimited], body["error"])

	rec = httptest.NewRecorder()
	respondError(rec, logger, 3, err)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "retry in 7 seconds")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.KindValidation))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(domain.KindRateLimited))
	assert.Equal(t, http.StatusTooManyRequests, statusFor(domain.KindRateLimit))
	assert.Equal(t, http.StatusUnauthorized, statusFor(domain.KindAuth))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.KindQuery))
}
