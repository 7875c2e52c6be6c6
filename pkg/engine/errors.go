package engine

import "errors"

var (
	// ErrValidation rejects malformed requests before any state change.
	ErrValidation = errors.New("validation error")
	// ErrOrderNotFound reports a lookup or cancel against an unknown id.
	ErrOrderNotFound = errors.New("order not found")
	// ErrExecution wraps unexpected failures mid-fill. The order involved
	// is left in its pre-call state.
	ErrExecution = errors.New("execution error")
)
