package handlers

import (
	"net/http"

	"github.com/mnema-ai/mnema/internal/service"
	"go.uber.org/zap"
)

type MaintenanceHandler struct {
	scheduler *service.MaintenanceScheduler
	verbosity int
	logger    *zap.Logger
}

func NewMaintenanceHandler(scheduler *service.MaintenanceScheduler, verbosity int, logger *zap.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{scheduler: scheduler, verbosity: verbosity, logger: logger}
}

// Run triggers one maintenance pass synchronously.
func (h *MaintenanceHandler) Run(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.RunOnce(r.Context()); err != nil {
		respondError(w, h.logger, h.verbosity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
