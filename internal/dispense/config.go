package dispense

import (
	"fmt"
	"math"
	"time"

	"github.com/pourwell/pourwell-core/internal/infrastructure/config"
)

// Config holds the pour tunables. It is injected at construction; nothing
// in this package reads process-wide settings.
type Config struct {
	// SecondsPerOz converts a volume into pump run time.
	SecondsPerOz float64

	// Concurrency caps simultaneously running pumps across all requests.
	Concurrency int

	// RetractionSeconds reverses the pump after each pour. 0 disables it.
	RetractionSeconds float64

	// InvertPins and DryRun describe how the motor driver was built.
	// They are kept here for status reporting.
	InvertPins bool
	DryRun     bool

	// PrimeTime and CleanTime are the bulk durations used when a caller
	// does not give one.
	PrimeTime time.Duration
	CleanTime time.Duration
}

// DefaultConfig returns the factory tunables.
func DefaultConfig() Config {
	return Config{
		SecondsPerOz: 3.0,
		Concurrency:  5,
		InvertPins:   true,
		PrimeTime:    10 * time.Second,
		CleanTime:    10 * time.Second,
	}
}

// ConfigFrom maps the dispenser section of the process configuration.
func ConfigFrom(d config.DispenserConfig) Config {
	return Config{
		SecondsPerOz:      d.OzCoefficient,
		Concurrency:       d.Concurrency,
		RetractionSeconds: d.RetractionSeconds,
		InvertPins:        d.InvertPumpPins,
		DryRun:            d.Debug,
		PrimeTime:         seconds(d.PrimeSeconds),
		CleanTime:         seconds(d.CleanSeconds),
	}
}

// Validate checks that the tunables can drive pumps.
func (c Config) Validate() error {
	if !(c.SecondsPerOz > 0) || math.IsInf(c.SecondsPerOz, 0) {
		return fmt.Errorf("%w: seconds per ounce must be positive, got %v", ErrInvalidConfig, c.SecondsPerOz)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.RetractionSeconds < 0 || math.IsNaN(c.RetractionSeconds) {
		return fmt.Errorf("%w: retraction cannot be negative, got %v", ErrInvalidConfig, c.RetractionSeconds)
	}
	return nil
}

// RunTime returns how long a pump runs to move volumeOz.
// Non-positive volumes need no run time.
func (c Config) RunTime(volumeOz float64) time.Duration {
	if volumeOz <= 0 {
		return 0
	}
	return seconds(volumeOz * c.SecondsPerOz)
}

// Retraction returns the reverse pulse applied after each pour.
func (c Config) Retraction() time.Duration {
	return seconds(c.RetractionSeconds)
}

func seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
