// Package fixed provides containers whose storage is reserved exactly once.
//
// List and Map draw their entries from a memory.ObjectPool and order them
// with the intrusive primitives; Vector holds a single phase-checked block.
// Call Reserve during memory.PhaseAllocation before first use. Inserting
// into a full container fails with memory.ErrCapacityExhausted.
//
// Containers are not safe for concurrent use.
package fixed
