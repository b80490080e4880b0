package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/mnema-ai/mnema/internal/service"
	"go.uber.org/zap"
)

type MemoryHandler struct {
	manager   *service.MemoryManager
	memories  domain.MemoryStore
	verbosity int
	logger    *zap.Logger
}

func NewMemoryHandler(manager *service.MemoryManager, memories domain.MemoryStore, verbosity int, logger *zap.Logger) *MemoryHandler {
	return &MemoryHandler{manager: manager, memories: memories, verbosity: verbosity, logger: logger}
}

type memoryResponse struct {
	ID             int64    `json:"id"`
	Content        string   `json:"content"`
	Category       string   `json:"category"`
	Importance     int      `json:"importance"`
	Source         string   `json:"source"`
	Confidence     float64  `json:"confidence"`
	RecallCount    int      `json:"recall_count"`
	IsConsolidated bool     `json:"is_consolidated"`
	Tags           []string `json:"tags,omitempty"`
	CreatedAt      string   `json:"created_at"`
}

func toMemoryResponse(m domain.Memory) memoryResponse {
	return memoryResponse{
		ID:             m.ID,
		Content:        m.Content,
		Category:       m.Category,
		Importance:     m.Importance,
		Source:         string(m.Source),
		Confidence:     m.Confidence,
		RecallCount:    m.RecallCount,
		IsConsolidated: m.IsConsolidated,
		Tags:           m.Tags,
		CreatedAt:      m.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// List returns a user's memories, newest first, with optional filters.
func (h *MemoryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	q := r.URL.Query()
	filter := domain.MemoryFilter{
		Category: q.Get("category"),
		SortBy:   domain.SortByRecency,
		Limit:    50,
	}
	if v := q.Get("min_importance"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.MinImportance = n
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			filter.Limit = n
		}
	}
	if v := q.Get("tags"); v != "" {
		filter.Tags = strings.Split(v, ",")
	}
	if v := q.Get("sort"); v != "" {
		filter.SortBy = domain.MemorySort(v)
	}

	memories, err := h.memories.List(r.Context(), userID, filter)
	if err != nil {
		respondError(w, h.logger, h.verbosity, err)
		return
	}

	resp := make([]memoryResponse, len(memories))
	for i, m := range memories {
		resp[i] = toMemoryResponse(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": resp, "count": len(resp)})
}

type createMemoryRequest struct {
	Content    string   `json:"content"`
	Category   string   `json:"category,omitempty"`
	Importance int      `json:"importance,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Create stores an explicit memory for the user.
func (h *MemoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req createMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	mem := &domain.Memory{
		UserID:     userID,
		Content:    strings.TrimSpace(req.Content),
		Category:   req.Category,
		Importance: req.Importance,
		Source:     domain.SourceExplicit,
		Confidence: 1.0,
		Tags:       req.Tags,
	}
	reinforced, err := h.manager.Remember(r.Context(), mem)
	if err != nil {
		respondError(w, h.logger, h.verbosity, err)
		return
	}

	status := http.StatusCreated
	if reinforced {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"memory":     toMemoryResponse(*mem),
		"reinforced": reinforced,
	})
}

// Delete removes a memory and its embedding.
func (h *MemoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	memoryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid memory id")
		return
	}

	if err := h.manager.Forget(r.Context(), memoryID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "memory not found")
			return
		}
		respondError(w, h.logger, h.verbosity, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
