package engine

import (
	"errors"
	"fmt"
)

// Error classes. Callers match with errors.Is.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrStateConflict    = errors.New("state conflict")
	ErrTransientIO      = errors.New("transient io error")
	ErrDataInsufficient = errors.New("insufficient data")
	ErrUnexpected       = errors.New("unexpected error")
)

var (
	ErrUnknownStrategy = fmt.Errorf("%w: unknown strategy", ErrConfiguration)
	ErrAlreadyRunning  = fmt.Errorf("%w: strategy already running", ErrStateConflict)
	ErrNotRunning      = fmt.Errorf("%w: strategy not running", ErrStateConflict)
	ErrInvalidAmount   = fmt.Errorf("%w: trade amount must be positive", ErrConfiguration)
)
