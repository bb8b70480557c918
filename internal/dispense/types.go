package dispense

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pourwell/pourwell-core/internal/pump"
)

// Kind says what produced a dispense.
type Kind string

const (
	KindCocktail Kind = "cocktail"
	KindPrime    Kind = "prime"
	KindClean    Kind = "clean"
	KindPour     Kind = "pour"
)

// State is where a pour is in its lifecycle. Finished is terminal.
type State string

const (
	StateQueued   State = "queued"
	StateRunning  State = "running"
	StateFinished State = "finished"
)

// Outcome is the result of a finished pour.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Job is one unit of pump work.
type Job struct {
	Channel    int            `json:"channel"`
	Ingredient string         `json:"ingredient"`
	VolumeOz   float64        `json:"volume_oz"`
	Run        time.Duration  `json:"run"`
	Retraction time.Duration  `json:"retraction"`
	Direction  pump.Direction `json:"direction"`
}

// Busy is how long the job holds its channel.
func (j Job) Busy() time.Duration {
	return j.Run + j.Retraction
}

// Description is the human-readable label shown to the user,
// e.g. "Tequila: 2 oz (pump 1)".
func (j Job) Description() string {
	if j.VolumeOz > 0 {
		return fmt.Sprintf("%s: %s oz (pump %d)", j.Ingredient, strconv.FormatFloat(j.VolumeOz, 'f', -1, 64), j.Channel)
	}
	name := j.Ingredient
	if name == "" {
		name = "empty"
	}
	return fmt.Sprintf("%s: %s %s (pump %d)", name, j.Run.Round(time.Millisecond), j.Direction, j.Channel)
}

// PourStatus is the observable state of one job.
type PourStatus struct {
	Description string         `json:"description"`
	Channel     int            `json:"channel"`
	Ingredient  string         `json:"ingredient"`
	VolumeOz    float64        `json:"volume_oz"`
	Direction   pump.Direction `json:"direction"`
	RunSeconds  float64        `json:"run_seconds"`
	State       State          `json:"state"`
	Outcome     Outcome        `json:"outcome,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// Finished reports whether the pour reached a terminal state.
func (s PourStatus) Finished() bool {
	return s.State == StateFinished
}

// Running reports whether the pump is currently driven for this pour.
func (s PourStatus) Running() bool {
	return s.State == StateRunning
}

func newStatus(j Job) PourStatus {
	return PourStatus{
		Description: j.Description(),
		Channel:     j.Channel,
		Ingredient:  j.Ingredient,
		VolumeOz:    j.VolumeOz,
		Direction:   j.Direction,
		RunSeconds:  j.Run.Seconds(),
		State:       StateQueued,
	}
}

// Summarize folds pour outcomes into one dispense outcome: failed if any
// pour failed, else cancelled if any was cancelled, else succeeded.
func Summarize(statuses []PourStatus) Outcome {
	result := OutcomeSucceeded
	for _, s := range statuses {
		switch s.Outcome {
		case OutcomeFailed:
			return OutcomeFailed
		case OutcomeCancelled:
			result = OutcomeCancelled
		}
	}
	return result
}

// GenerateID creates a new dispense identifier.
func GenerateID() string {
	return uuid.NewString()
}

// Motor is the pump control surface the executor needs.
// It is satisfied by *pump.Driver.
type Motor interface {
	Drive(channel int, dir pump.Direction) error
	StopAll() error
}

// Logger defines the logging interface used by the dispense package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
