package events

import "errors"

var (
	ErrRingSize   = errors.New("events: ring size must be a power of two")
	ErrBadPayload = errors.New("events: malformed payload")
)
