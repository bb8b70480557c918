package dispense

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pourwell/pourwell-core/internal/infrastructure/mqtt"
)

// MQTTClient is the interface for publishing dispense events.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// WSHub is the interface for broadcasting WebSocket events.
type WSHub interface {
	Broadcast(channel string, payload any)
}

// Telemetry receives one sample per finished pour.
type Telemetry interface {
	WritePour(channel int, ingredient, outcome string, volumeOz float64, run time.Duration, at time.Time)
}

// WebSocket event channels.
const (
	EventPourUpdated       = "pour.updated"
	EventDispenseCompleted = "dispense.completed"
)

// persistTimeout bounds each history write made while delivering events.
const persistTimeout = 5 * time.Second

// PourEvent is the payload for pour.updated.
type PourEvent struct {
	DispenseID string     `json:"dispense_id"`
	Index      int        `json:"index"`
	Status     PourStatus `json:"status"`
}

// CompletedEvent is the payload for dispense.completed.
type CompletedEvent struct {
	DispenseID string       `json:"dispense_id"`
	Kind       Kind         `json:"kind"`
	Recipe     string       `json:"recipe,omitempty"`
	Outcome    Outcome      `json:"outcome"`
	Pours      []PourStatus `json:"pours"`
}

// events fans executor progress out to history, MQTT, WebSocket clients
// and telemetry. Every sink is optional.
type events struct {
	service   *Service
	mqtt      MQTTClient
	hub       WSHub
	telemetry Telemetry
}

// PourUpdated implements Observer.
func (ev *events) PourUpdated(h *Handle, index int, st PourStatus) {
	s := ev.service

	if s.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.repo.UpdatePour(ctx, h.ID(), index, st); err != nil {
			s.logger.Warn("failed to record pour", "dispense_id", h.ID(), "index", index, "error", err)
		}
		cancel()
	}

	payload := PourEvent{DispenseID: h.ID(), Index: index, Status: st}
	if ev.hub != nil {
		ev.hub.Broadcast(EventPourUpdated, payload)
	}
	ev.publish(mqtt.Topics{}.DispensePour(h.ID()), payload)

	if st.Finished() && ev.telemetry != nil && st.RunSeconds > 0 {
		at := time.Now().UTC()
		if st.FinishedAt != nil {
			at = *st.FinishedAt
		}
		ev.telemetry.WritePour(st.Channel, st.Ingredient, string(st.Outcome), st.VolumeOz, seconds(st.RunSeconds), at)
	}
}

// DispenseCompleted implements Observer.
func (ev *events) DispenseCompleted(h *Handle) {
	s := ev.service
	pours := h.Snapshot()
	outcome := Summarize(pours)

	a, _ := s.forget(h.ID())
	var kind Kind
	var name string
	if a != nil {
		kind, name = a.kind, a.recipe
	}

	if s.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := s.repo.CompleteDispense(ctx, h.ID(), Status(outcome), time.Now().UTC()); err != nil {
			s.logger.Warn("failed to record dispense completion", "dispense_id", h.ID(), "error", err)
		}
		cancel()
	}

	s.logger.Info("dispense completed",
		"dispense_id", h.ID(),
		"kind", kind,
		"recipe", name,
		"outcome", outcome,
		"pours", len(pours),
	)

	payload := CompletedEvent{DispenseID: h.ID(), Kind: kind, Recipe: name, Outcome: outcome, Pours: pours}
	if ev.hub != nil {
		ev.hub.Broadcast(EventDispenseCompleted, payload)
	}
	ev.publish(mqtt.Topics{}.DispenseCompleted(h.ID()), payload)
}

func (ev *events) publish(topic string, payload any) {
	if ev.mqtt == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		ev.service.logger.Error("marshalling event", "topic", topic, "error", err)
		return
	}
	if err := ev.mqtt.Publish(topic, data, 1, false); err != nil {
		ev.service.logger.Warn("publishing event", "topic", topic, "error", err)
	}
}
