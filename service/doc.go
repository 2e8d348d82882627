// Package service owns a process's memory lifecycle: the phase manager,
// the registry of reserved pools, and the trail of allocator events that
// ends up in the outbox.
//
// It is decoupled from transports; api/grpcserver and cmd/ballastd sit on
// top of it.
package service
