// Package events models the allocator's notable moments (phase changes,
// exhausted pools, refused allocations) and carries them from the goroutine
// that saw them to the one that persists them.
//
// Recording goes through Ring, a single-producer single-consumer buffer
// sized once at start-up, so recording never allocates in steady state.
// Encode and Decode turn an Event into the JSON payload stored in the
// outbox and published downstream.
package events
