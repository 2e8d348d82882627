package service

import "errors"

var (
	// ErrPhaseOrder is returned when asked to move to a phase that is not
	// later than the current one.
	ErrPhaseOrder = errors.New("service: phase does not advance")

	ErrDuplicatePool = errors.New("service: pool already registered")
)
