// Package mm declares the memory-allocation contract the scheduler and
// SMP bring-up code depend on without implementing it: physical/virtual
// page allocation lives in the memory manager proper, so mm only fixes
// the interface shape the core consumes.
package mm

// Allocator supplies the physical/virtual memory operations SMP bring-up
// and thread creation need: per-AP kernel stacks, a reserved page below the
// 1MiB real-mode boundary for the AP trampoline payload, and named slabs
// for scheduler-internal bookkeeping (run-queue nodes, wait-object
// storage). Every allocating method returns an error rather than
// panicking — resource exhaustion is the caller's problem to handle, not
// this module's.
type Allocator interface {
	// AllocStack reserves a contiguous, guard-paged stack region of size
	// bytes and returns its top (the address threads should be initialized
	// to run down from).
	AllocStack(size uintptr) (top uintptr, err error)

	// FreeStack releases a stack previously returned by AllocStack. Called
	// by the scheduler's reaper once a thread has transitioned to Dead.
	FreeStack(top uintptr)

	// ReserveBelow1MiB reserves a size-byte, page-aligned region addressable
	// by 16-bit real-mode code, for the AP trampoline payload.
	ReserveBelow1MiB(size uintptr) (addr uintptr, err error)

	// AllocSlab reserves a block sized for the named scheduler structure
	// (e.g. "runqueue-node", "wait-object"). The set of valid kinds is
	// defined by the caller; mm treats it as an opaque hint.
	AllocSlab(kind string) (addr uintptr, err error)
}
