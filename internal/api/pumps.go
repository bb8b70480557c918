package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pourwell/pourwell-core/internal/pump"
	"github.com/pourwell/pourwell-core/internal/recipe"
)

// maxIngredientLen bounds an ingredient name accepted over the API.
const maxIngredientLen = 100

// PumpView is one channel as reported by GET /pumps.
type PumpView struct {
	Channel    int            `json:"channel"`
	Label      string         `json:"label"`
	Ingredient string         `json:"ingredient"`
	State      pump.Direction `json:"state,omitempty"`
}

type bindPumpRequest struct {
	Ingredient string `json:"ingredient"`
}

// handleListPumps returns every channel with its binding, plus the raw
// {"Pump n": ingredient} configuration the pump file stores.
func (s *Server) handleListPumps(w http.ResponseWriter, _ *http.Request) {
	s.writePumps(w, s.pumps.Current())
}

// handleReplacePumps replaces the whole pump configuration.
// The body uses the pump file format: {"Pump 1": "Tequila", ...}.
func (s *Server) handleReplacePumps(w http.ResponseWriter, r *http.Request) {
	var cfg recipe.PumpConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		if errors.Is(err, recipe.ErrInvalidPumpLabel) {
			writeBadRequest(w, err.Error())
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}
	for _, ing := range cfg.Bindings() {
		if len(ing) > maxIngredientLen {
			writeBadRequest(w, "ingredient exceeds maximum length")
			return
		}
	}

	if err := s.pumps.Save(cfg); err != nil {
		s.logger.Error("failed to save pump configuration", "error", err)
		writeInternalError(w, "failed to save pump configuration")
		return
	}
	s.logger.Info("pump configuration replaced", "bound", len(cfg.Channels()))
	s.writePumps(w, cfg)
}

// handleBindPump binds one channel. An empty ingredient unbinds it.
func (s *Server) handleBindPump(w http.ResponseWriter, r *http.Request) {
	channel, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil || channel < 1 || channel > recipe.MaxChannels {
		writeBadRequest(w, "invalid pump channel")
		return
	}

	var req bindPumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	req.Ingredient = strings.TrimSpace(req.Ingredient)
	if len(req.Ingredient) > maxIngredientLen {
		writeBadRequest(w, "ingredient exceeds maximum length")
		return
	}

	cfg, err := s.pumps.Current().With(channel, req.Ingredient)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.pumps.Save(cfg); err != nil {
		s.logger.Error("failed to save pump configuration", "channel", channel, "error", err)
		writeInternalError(w, "failed to save pump configuration")
		return
	}
	s.logger.Info("pump rebound", "channel", channel, "ingredient", req.Ingredient)
	s.writePumps(w, cfg)
}

func (s *Server) writePumps(w http.ResponseWriter, cfg recipe.PumpConfig) {
	pumps := make([]PumpView, 0, recipe.MaxChannels)
	for ch := 1; ch <= recipe.MaxChannels; ch++ {
		v := PumpView{
			Channel:    ch,
			Label:      recipe.PumpLabel(ch),
			Ingredient: cfg.Ingredient(ch),
		}
		if s.motor != nil {
			if dir, err := s.motor.State(ch); err == nil {
				v.State = dir
			}
		}
		pumps = append(pumps, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"pumps": pumps, "config": cfg})
}
