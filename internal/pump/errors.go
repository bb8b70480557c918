package pump

import "errors"

// Domain errors for the pump package.
var (
	// ErrUnknownChannel is returned for a channel with no configured line pair.
	// It indicates a configuration or programming error and is never retried.
	ErrUnknownChannel = errors.New("pump: unknown channel")

	// ErrInvalidDirection is returned for a direction outside forward/reverse/stop.
	ErrInvalidDirection = errors.New("pump: invalid direction")

	// ErrRegistryClosed is returned when driving after the lines were released.
	ErrRegistryClosed = errors.New("pump: registry closed")

	// ErrDuplicateLine is returned when two channels claim the same GPIO line.
	ErrDuplicateLine = errors.New("pump: line already claimed")
)
