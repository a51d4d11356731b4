package percpu

import "github.com/kernel-go/corekit/sched"

// runqueueCapacity bounds each priority class's run queue, with ample
// headroom over any realistic live-thread count while keeping the queue a
// fixed-size array (no allocation on the interrupt-time push/pop path).
const runqueueCapacity = 256

// runqueue is a fixed-capacity FIFO ring buffer of sched.ThreadID.
// container/list would allocate a node per insertion, which is
// unacceptable on the push-runnable/pop-highest-runnable path that may
// run with interrupts disabled inside the timer-tick handler.
type runqueue struct {
	items [runqueueCapacity]sched.ThreadID
	head  int
	count int
}

// pushBack enqueues id at the tail. Returns false if the queue is full;
// Scheduler.Spawn reports that to its caller as a *sched.SpawnError.
func (q *runqueue) pushBack(id sched.ThreadID) bool {
	if q.count == runqueueCapacity {
		return false
	}
	tail := (q.head + q.count) % runqueueCapacity
	q.items[tail] = id
	q.count++
	return true
}

// pushFront re-inserts id at the head — used when a preempted thread still
// has quantum remaining.
func (q *runqueue) pushFront(id sched.ThreadID) bool {
	if q.count == runqueueCapacity {
		return false
	}
	q.head = (q.head - 1 + runqueueCapacity) % runqueueCapacity
	q.items[q.head] = id
	q.count++
	return true
}

// popFront removes and returns the thread at the head, or false if empty.
func (q *runqueue) popFront() (sched.ThreadID, bool) {
	if q.count == 0 {
		return 0, false
	}
	id := q.items[q.head]
	q.head = (q.head + 1) % runqueueCapacity
	q.count--
	return id, true
}

func (q *runqueue) empty() bool {
	return q.count == 0
}

func (q *runqueue) len() int {
	return q.count
}
