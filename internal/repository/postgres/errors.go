package postgres

import "errors"

var (
	// ErrNotFound is returned when a row does not exist within the caller's
	// tenant scope. Callers cannot distinguish "absent" from "other tenant".
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when a status update would violate
	// the campaign or message state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrWinnerAlreadySet is returned when a second winner declaration is
	// attempted on an A/B test. The first declaration is immutable.
	ErrWinnerAlreadySet = errors.New("winning variant already set")
)
