package control

import "errors"

// Domain errors for the control package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, control.ErrWriteFailed) {
//	    // handle failed command delivery
//	}
var (
	// ErrWriteFailed is returned when a power state command cannot be delivered.
	ErrWriteFailed = errors.New("control: write failed")

	// ErrRuleFailed is returned when a rule object cannot be installed or removed.
	ErrRuleFailed = errors.New("control: rule operation failed")

	// ErrNotStarted is returned when the port is used before Start().
	ErrNotStarted = errors.New("control: port not started")
)
