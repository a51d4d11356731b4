// Package kernelsync provides the short spinlock guarding per-CPU run
// queues, wait-object queues, and CPU slots. Critical sections are
// entered with local interrupts already disabled and held only for a few
// loads and stores.
package kernelsync

import "sync/atomic"

// spinWait is called by a CPU that fails to acquire a lock on its first
// attempt. On real hardware this is a `pause` instruction, substituted here
// as a package variable so tests can run without busy-looping forever and
// so the scheduler can install a real yield once it exists.
var spinWait = func() {}

// SetSpinWaitFunc overrides the busy-wait hook, e.g. to runtime.Gosched in
// tests, or to the scheduler's cooperative yield in production.
func SetSpinWaitFunc(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	spinWait = fn
}

// Spinlock is a lock where a contending CPU busy-waits until the lock
// becomes available. Acquire/Release are expected to run with local
// interrupts already disabled by the caller: the lock itself
// does not disable interrupts, since on a uniprocessor build merely
// disabling interrupts already provides mutual exclusion and the caller
// knows which is needed.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the caller. Re-acquiring
// a lock already held by the same caller deadlocks, exactly as a real
// spinlock would.
func (l *Spinlock) Acquire() {
	for !l.TryToAcquire() {
		spinWait()
	}
}

// TryToAcquire attempts to acquire the lock without blocking, returning
// whether it succeeded.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.SwapUint32(&l.state, 1) == 0
}

// Release relinquishes a held lock. Calling Release on a free lock has no
// effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// Locked reports whether the lock is currently held, for diagnostics and
// tests only — never branch production logic on it, since it is racy by
// construction.
func (l *Spinlock) Locked() bool {
	return atomic.LoadUint32(&l.state) != 0
}
