package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dkarpov/omrscore/internal/i18n"
	"github.com/dkarpov/omrscore/internal/key"
	"github.com/dkarpov/omrscore/internal/marks"
	"github.com/dkarpov/omrscore/internal/model"
	"github.com/dkarpov/omrscore/internal/report"
	"github.com/dkarpov/omrscore/internal/scorer"
	"github.com/dkarpov/omrscore/internal/store"
)

// Config holds handler options beyond its collaborators.
type Config struct {
	// TokenHash is the bcrypt hash of the shared API password.
	// Empty disables authentication.
	TokenHash []byte
}

// Handler holds shared dependencies for the scoring API.
type Handler struct {
	keys   *key.Manager
	calc   *scorer.Calculator
	store  *store.Store // nil disables persistence and history endpoints
	config Config
}

// New creates a new Handler. st may be nil when no results store is attached.
func New(keys *key.Manager, calc *scorer.Calculator, st *store.Store, cfg Config) *Handler {
	return &Handler{keys: keys, calc: calc, store: st, config: cfg}
}

// Routes registers all HTTP routes. The health endpoint stays open;
// everything under /api honors the configured token.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Group(func(g chi.Router) {
		g.Use(h.requireToken)
		g.Post("/api/score", h.handleScore)
		g.Get("/api/batches", h.handleListBatches)
		g.Get("/api/batches/{batchID}", h.handleGetBatch)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	sheets, err := marks.DecodeSheets(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	res := h.calc.ScoreBatch(sheets)
	rep := report.Summarize(h.keys.Spec(), res.Scores, res.Skipped)

	if h.store != nil {
		// Scores were already computed; a persistence failure must not
		// turn the response into an error.
		if err := h.store.SaveBatch(rep); err != nil {
			slog.Error("persist batch", "batch_id", rep.ID, "error", err)
		}
	}

	slog.Info("batch scored",
		"batch_id", rep.ID,
		"scored", rep.ScoredCount,
		"skipped", rep.SkippedCount,
		"pass_rate", rep.PassRate,
	)
	writeJSON(w, http.StatusOK, rep)
}

func (h *Handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no results store configured"})
		return
	}
	batches, err := h.store.ListBatches()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if batches == nil {
		batches = []model.BatchReport{}
	}
	writeJSON(w, http.StatusOK, batches)
}

func (h *Handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no results store configured"})
		return
	}
	rep, err := h.store.GetBatch(chi.URLParam(r, "batchID"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rep == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": i18n.T(r.Context(), "BatchNotFound")})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
