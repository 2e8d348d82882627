// Package memory provides the deterministic storage primitives the rest of
// ballast is built on: a process-wide allocation phase, a phase-gated
// allocator, and fixed-capacity recycling object pools.
//
// Storage is granted once, during PhaseAllocation, and recycled through each
// pool's embedded free list afterwards. PhaseSteady locks out every grant
// and return, so a subsystem that finished its setup cannot quietly grow.
// PhaseDeallocation is entered at shutdown to hand blocks back.
//
// Every failure is reported to the caller as an error wrapping one of the
// package sentinels. Builds tagged ballast_failfast abort the process on
// those failures instead; Must and Check offer the same behavior per call.
package memory
