package alerting

import "errors"

var (
	// ErrNotFound is returned when a referenced alert or instance does not exist.
	ErrNotFound = errors.New("not found")

	// ErrIllegalTransition is returned when an instance is not in a state
	// that permits the requested lifecycle action.
	ErrIllegalTransition = errors.New("illegal transition")
)
