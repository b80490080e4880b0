package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/mnema-ai/mnema/internal/embedding"
	"github.com/mnema-ai/mnema/internal/service"
	"github.com/mnema-ai/mnema/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newHandlerDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.Init(context.Background(), db))
	_, err = store.NewUserStore(db).GetOrCreate(context.Background(), 1, "tester", "", "", "en")
	require.NoError(t, err)
	return db
}

func newMemoryRouter(t *testing.T, db *sql.DB) (chi.Router, *store.MemoryStore) {
	t.Helper()
	logger := zap.NewNop()
	memories := store.NewMemoryStore(db)
	manager := service.NewMemoryManager(memories, store.NewEmbeddingStore(db),
		embedding.NewMockClient(4), service.NewMemoryExtractor(nil, logger), logger)
	t.Cleanup(manager.Wait)

	h := NewMemoryHandler(manager, memories, 1, logger)
	r := chi.NewRouter()
	r.Get("/v1/users/{id}/memories", h.List)
	r.Post("/v1/users/{id}/memories", h.Create)
	r.Delete("/v1/memories/{id}", h.Delete)
	return r, memories
}

func TestMemoryHandlerCreateAndList(t *testing.T) {
	db := newHandlerDB(t)
	router, _ := newMemoryRouter(t, db)

	body := `{"content":"speaks three languages","category":"personal","importance":4,"tags":["languages"]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/users/1/memories", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Memory     memoryResponse `json:"memory"`
		Reinforced bool           `json:"reinforced"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.False(t, created.Reinforced)
	assert.Equal(t, "speaks three languages", created.Memory.Content)
	assert.Equal(t, "explicit", created.Memory.Source)
	assert.Equal(t, 1, created.Memory.RecallCount)

	// Posting the identical content reinforces instead of duplicating.
	req = httptest.NewRequest(http.MethodPost, "/v1/users/1/memories", bytes.NewBufferString(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Reinforced)
	assert.Equal(t, 2, created.Memory.RecallCount)

	req = httptest.NewRequest(http.MethodGet, "/v1/users/1/memories?category=personal", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Memories []memoryResponse `json:"memories"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Count)
	assert.Equal(t, []string{"languages"}, listed.Memories[0].Tags)
}

func TestMemoryHandlerCreateValidation(t *testing.T) {
	db := newHandlerDB(t)
	router, _ := newMemoryRouter(t, db)

	for _, body := range []string{`{"content":"  "}`, `not json`} {
		req := httptest.NewRequest(http.MethodPost, "/v1/users/1/memories", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body=%s", body)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/users/abc/memories", bytes.NewBufferString(`{"content":"x"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemoryHandlerDelete(t *testing.T) {
	db := newHandlerDB(t)
	router, memories := newMemoryRouter(t, db)
	ctx := context.Background()

	m := &domain.Memory{UserID: 1, Content: "temporary", Importance: 2}
	_, err := memories.Add(ctx, m)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/v1/memories/%d", m.ID), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, fmt.Sprintf("/v1/memories/%d", m.ID), nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
