package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mnema-ai/mnema/internal/service"
	"go.uber.org/zap"
)

type ChatHandler struct {
	svc       *service.ChatService
	verbosity int
	logger    *zap.Logger
}

func NewChatHandler(svc *service.ChatService, verbosity int, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, verbosity: verbosity, logger: logger}
}

type chatRequest struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message"`
}

// Converse runs one conversation turn.
func (h *ChatHandler) Converse(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := h.svc.Handle(r.Context(), req.UserID, req.Username, req.Message)
	if err != nil {
		respondError(w, h.logger, h.verbosity, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}
