package sched

// WaitKind identifies a WaitObject's discipline. Signal dispatches on it
// with one switch statement rather than through an interface method, so
// the wake path has no indirect call.
type WaitKind int

const (
	KindSemaphore WaitKind = iota
	KindSignal
	KindSleep
	KindJoin
)

// WaitObject is the sum type {Semaphore(count), Signal(flag),
// Sleep(wake-TSC), Join(target-thread)}, holding an ordered FIFO of
// waiting thread IDs. A thread appears in at most one
// WaitObject's queue at a time: Scheduler.Wait and WaitTimeout enqueue only
// the calling CPU's current thread, which is Running and so in no queue,
// and a thread holds only one WaitObj pointer at a time. Wait does not
// itself check for an earlier membership.
type WaitObject struct {
	Kind WaitKind

	// Semaphore count. Each Signal(sem) increments it and, if a thread is
	// waiting, wakes the oldest waiter, which takes the increment back. A
	// Wait on a positive count decrements it without blocking; count never
	// goes negative (a Wait on a zero-count semaphore blocks).
	Count int

	// Signal flag: Signal(sig) sets it and drains every waiter; a Wait
	// against an already-set flag returns immediately without blocking
	// (checked by the caller before enqueueing).
	Flag bool

	// Sleep wake time, in TSC ticks.
	WakeTSC uint64

	// Join target: the thread a Join waiter is blocked on. Signal(join)
	// is invoked by the scheduler itself when Target transitions to Dead.
	Target ThreadID

	waiters []ThreadID
}

// NewSemaphore returns a WaitObject in the Semaphore discipline with an
// initial count.
func NewSemaphore(count int) *WaitObject {
	return &WaitObject{Kind: KindSemaphore, Count: count}
}

// NewSignal returns a WaitObject in the Signal discipline, initially
// unset.
func NewSignal() *WaitObject {
	return &WaitObject{Kind: KindSignal}
}

// NewSleep returns a WaitObject in the Sleep discipline with the given
// wake deadline.
func NewSleep(wakeTSC uint64) *WaitObject {
	return &WaitObject{Kind: KindSleep, WakeTSC: wakeTSC}
}

// NewJoin returns a WaitObject in the Join discipline targeting a thread.
func NewJoin(target ThreadID) *WaitObject {
	return &WaitObject{Kind: KindJoin, Target: target}
}

// enqueue adds a waiting thread to the tail of this object's FIFO.
func (w *WaitObject) enqueue(id ThreadID) {
	w.waiters = append(w.waiters, id)
}

// dequeue removes and returns the thread at the head of the FIFO, or false
// if empty.
func (w *WaitObject) dequeue() (ThreadID, bool) {
	if len(w.waiters) == 0 {
		return 0, false
	}
	id := w.waiters[0]
	w.waiters = w.waiters[1:]
	return id, true
}

// drainAll removes and returns every waiting thread, in FIFO order.
func (w *WaitObject) drainAll() []ThreadID {
	all := w.waiters
	w.waiters = nil
	return all
}

// remove deletes id from the FIFO if present, used when a timed wait
// expires before being signaled.
func (w *WaitObject) remove(id ThreadID) {
	for i, waiter := range w.waiters {
		if waiter == id {
			w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
			return
		}
	}
}
