package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/pourwell/pourwell-core/internal/dispense"
	"github.com/pourwell/pourwell-core/internal/recipe"
)

// maxMaintenanceSeconds bounds a prime, clean or timed pour requested over the API.
const maxMaintenanceSeconds = 120

type bulkRequest struct {
	Seconds float64 `json:"seconds"`
}

type pourRequest struct {
	Channel int     `json:"channel"`
	Oz      float64 `json:"oz"`
	Seconds float64 `json:"seconds"`
}

// handlePrime starts priming every bound pump and returns at once.
// Progress is reported over the WebSocket and MQTT like any dispense.
func (s *Server) handlePrime(w http.ResponseWriter, r *http.Request) {
	s.startBulk(w, r, dispense.KindPrime, s.service.Config().PrimeTime, s.service.Prime)
}

// handleClean starts running every bound pump in reverse and returns at once.
func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	s.startBulk(w, r, dispense.KindClean, s.service.Config().CleanTime, s.service.Clean)
}

func (s *Server) startBulk(w http.ResponseWriter, r *http.Request, kind dispense.Kind, def time.Duration, run func(context.Context, time.Duration) error) {
	var req bulkRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Seconds < 0 || req.Seconds > maxMaintenanceSeconds {
		writeBadRequest(w, "seconds out of range")
		return
	}
	d := def
	if req.Seconds > 0 {
		d = toDuration(req.Seconds)
	}

	channels := s.pumps.Current().Channels()
	if len(channels) == 0 {
		writeConflict(w, dispense.ErrNothingToPour.Error())
		return
	}

	go func() {
		if err := run(s.ctx, d); err != nil {
			s.logger.Error("maintenance run failed", "kind", kind, "error", err)
			return
		}
		s.logger.Info("maintenance run finished", "kind", kind, "channels", len(channels))
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "started",
		"kind":     kind,
		"channels": channels,
		"seconds":  d.Seconds(),
	})
}

// handlePour runs one pump, by volume when oz is set, otherwise for seconds.
func (s *Server) handlePour(w http.ResponseWriter, r *http.Request) {
	var req pourRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Channel < 1 || req.Channel > recipe.MaxChannels {
		writeBadRequest(w, "invalid pump channel")
		return
	}
	if req.Oz < 0 || req.Seconds < 0 || req.Seconds > maxMaintenanceSeconds {
		writeBadRequest(w, "oz and seconds must be within range")
		return
	}
	if req.Oz == 0 && req.Seconds == 0 {
		writeBadRequest(w, "one of oz or seconds is required")
		return
	}

	h, err := s.service.Pour(r.Context(), req.Channel, req.Oz, toDuration(req.Seconds))
	if err != nil {
		writeDispenseError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, handleView(h, nil))
}

// handleStop cancels every queued pour of every in-flight dispense.
func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	n := s.service.CancelAll()
	s.logger.Info("stop requested", "cancelled", n)
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func toDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
