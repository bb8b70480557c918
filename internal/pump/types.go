package pump

import "fmt"

// Direction is the commanded motor state for one channel.
type Direction string

const (
	// Forward pumps liquid from the reservoir to the glass.
	Forward Direction = "forward"

	// Reverse pumps liquid back toward the reservoir (cleaning, retraction).
	Reverse Direction = "reverse"

	// Stop de-energises both control lines.
	Stop Direction = "stop"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool {
	switch d {
	case Forward, Reverse, Stop:
		return true
	}
	return false
}

// Pins is the H-bridge input pair for one channel.
type Pins struct {
	A int
	B int
}

// Channel describes one physical pump: its number and control-line pair.
// Channels are built at startup and never mutated afterwards.
type Channel struct {
	Number int
	Pins   Pins
}

func (c Channel) String() string {
	return fmt.Sprintf("pump %d (lines %d/%d)", c.Number, c.Pins.A, c.Pins.B)
}

// Logger defines the logging interface used by the pump package.
// It is satisfied by *logging.Logger.
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
