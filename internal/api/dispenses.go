package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pourwell/pourwell-core/internal/dispense"
	"github.com/pourwell/pourwell-core/internal/recipe"
)

const (
	// maxQueryParamLen limits URL parameter length.
	maxQueryParamLen = 100

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type dispenseRequest struct {
	Recipe  string `json:"recipe"`
	Serving string `json:"serving"`
}

// DispenseResponse reports an in-flight or just-started dispense.
type DispenseResponse struct {
	ID      string                    `json:"id"`
	Done    bool                      `json:"done"`
	Outcome dispense.Outcome          `json:"outcome,omitempty"`
	Pours   []dispense.PourStatus     `json:"pours"`
	Manual  []recipe.ManualIngredient `json:"manual,omitempty"`
}

func handleView(h *dispense.Handle, manual []recipe.ManualIngredient) DispenseResponse {
	done := h.Done()
	resp := DispenseResponse{
		ID:     h.ID(),
		Done:   done,
		Pours:  h.Snapshot(),
		Manual: manual,
	}
	if done {
		resp.Outcome = dispense.Summarize(resp.Pours)
	}
	return resp
}

// handleDispense starts a cocktail and returns at once. The response lists
// the pours as queued and the ingredients the user must add by hand.
func (s *Server) handleDispense(w http.ResponseWriter, r *http.Request) {
	var req dispenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Recipe == "" || len(req.Recipe) > maxRecipeNameLen {
		writeBadRequest(w, "recipe is required")
		return
	}
	serving, err := recipe.ParseServing(req.Serving)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	h, manual, err := s.service.DispenseByName(r.Context(), req.Recipe, serving)
	if err != nil {
		writeDispenseError(w, err)
		return
	}
	if manual == nil {
		manual = []recipe.ManualIngredient{}
	}
	writeJSON(w, http.StatusAccepted, handleView(h, manual))
}

// handleListDispenses returns recorded dispenses, newest first.
//
// Query parameters:
//   - limit: maximum records (default 50, max 500)
func (s *Server) handleListDispenses(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	records, err := s.service.RecentHistory(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list dispenses", "error", err)
		writeInternalError(w, "failed to list dispenses")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispenses": records, "count": len(records)})
}

// handleActiveDispenses returns dispenses that still have pours queued or running.
func (s *Server) handleActiveDispenses(w http.ResponseWriter, _ *http.Request) {
	active := s.service.Active()
	writeJSON(w, http.StatusOK, map[string]any{"dispenses": active, "count": len(active)})
}

// handleGetDispense returns live status for an in-flight dispense, or the
// recorded history once it has finished.
func (s *Server) handleGetDispense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid dispense ID")
		return
	}

	if h, ok := s.service.Lookup(id); ok {
		writeJSON(w, http.StatusOK, handleView(h, nil))
		return
	}

	rec, err := s.service.History(r.Context(), id)
	if err != nil {
		if errors.Is(err, dispense.ErrDispenseNotFound) {
			writeNotFound(w, "dispense not found")
			return
		}
		writeInternalError(w, "failed to get dispense")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCancelDispense cancels the queued pours of an in-flight dispense.
// Pours already running finish physically.
func (s *Server) handleCancelDispense(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" || len(id) > maxQueryParamLen {
		writeBadRequest(w, "invalid dispense ID")
		return
	}

	h, ok := s.service.Lookup(id)
	if !ok {
		writeNotFound(w, "dispense not in progress")
		return
	}
	n := h.Cancel()
	s.logger.Info("dispense cancel requested", "dispense_id", id, "cancelled", n)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "cancelled": n})
}

// writeDispenseError maps service errors onto HTTP status codes.
func writeDispenseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, recipe.ErrRecipeNotFound):
		writeNotFound(w, "recipe not found")
	case errors.Is(err, recipe.ErrInvalidServing):
		writeBadRequest(w, err.Error())
	case errors.Is(err, recipe.ErrChannelCollision):
		writeConflict(w, err.Error())
	case errors.Is(err, dispense.ErrNothingToPour):
		writeConflict(w, err.Error())
	case errors.Is(err, dispense.ErrExecutorClosed):
		writeUnavailable(w, "dispenser is shutting down")
	default:
		writeInternalError(w, "failed to start dispense")
	}
}
