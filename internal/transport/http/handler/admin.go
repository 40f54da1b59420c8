package handler

import (
	"context"
	"net/http"
)

type cleanupRunner interface {
	Run(ctx context.Context) (int64, error)
}

// AdminHandler exposes maintenance operations to administrators.
type AdminHandler struct {
	cleanup cleanupRunner
}

func NewAdminHandler(cleanup cleanupRunner) *AdminHandler {
	return &AdminHandler{cleanup: cleanup}
}

// RunCleanup purges expired pending registrations immediately.
func (h *AdminHandler) RunCleanup(w http.ResponseWriter, r *http.Request) {
	n, err := h.cleanup.Run(r.Context())
	if err != nil {
		httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CleanupEnvelope{Deleted: n})
}
