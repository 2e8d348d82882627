package memory

import "errors"

var (
	// ErrCapacityExhausted indicates that every reserved slot is occupied.
	ErrCapacityExhausted = errors.New("memory: capacity exhausted")

	// ErrPhaseViolation indicates a storage grant or return outside its phase.
	ErrPhaseViolation = errors.New("memory: operation not permitted in current phase")

	// ErrInvalidHandle indicates a pointer that is not a live value of this pool.
	ErrInvalidHandle = errors.New("memory: invalid handle")

	// ErrReReservation indicates a reserve call that would grow an existing reservation.
	ErrReReservation = errors.New("memory: pool already reserved")

	// ErrPoolInUse indicates a release attempt while values are still live.
	ErrPoolInUse = errors.New("memory: pool still has live values")

	// ErrNotBaseType indicates that a concrete pool type does not implement the handle's base type.
	ErrNotBaseType = errors.New("memory: value type does not implement base type")
)
