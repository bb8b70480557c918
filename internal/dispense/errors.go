package dispense

import "errors"

// Domain errors for the dispense package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, dispense.ErrExecutorClosed) {
//	    // shutting down
//	}
var (
	// ErrExecutorClosed is returned when submitting work after Close.
	ErrExecutorClosed = errors.New("dispense: executor closed")

	// ErrInterrupted is recorded on a pour stopped by executor shutdown.
	ErrInterrupted = errors.New("dispense: pour interrupted by shutdown")

	// ErrPourFailed is returned by bulk operations when any pour failed.
	ErrPourFailed = errors.New("dispense: pour failed")

	// ErrInvalidConfig is returned for unusable tunables.
	ErrInvalidConfig = errors.New("dispense: invalid config")

	// ErrDispenseNotFound is returned when a dispense ID is unknown.
	ErrDispenseNotFound = errors.New("dispense: not found")

	// ErrNothingToPour is returned by bulk operations with no bound pumps.
	ErrNothingToPour = errors.New("dispense: no bound pumps")

	// ErrInvalidCommand is returned for a malformed remote command.
	ErrInvalidCommand = errors.New("dispense: invalid command")
)
