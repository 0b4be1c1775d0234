package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/upkab/approval-api/internal/service"
)

// Sweeper runs one expiry sweep.
// Satisfied by *service.ExpiryService.
type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepReport, error)
}

// SweepHandler lets an administrator trigger the expiry sweep on demand.
type SweepHandler struct {
	sweeper Sweeper
	log     zerolog.Logger
}

func NewSweepHandler(sweeper Sweeper, log zerolog.Logger) *SweepHandler {
	return &SweepHandler{sweeper: sweeper, log: log}
}

// RegisterRoutes registers the sweep endpoint. Expected to be mounted at
// /admin behind RequireRole(super_admin).
func (h *SweepHandler) RegisterRoutes(r chi.Router) {
	r.Post("/expiry-sweep", h.Run)
}

// Run handles POST /admin/expiry-sweep.
func (h *SweepHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrSweepInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "an expiry sweep is already running"})
			return
		}
		h.log.Error().Err(err).Msg("expiry sweep request failed")
		writeJSON(w, statusForError(err), map[string]string{"error": "expiry sweep failed"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}
