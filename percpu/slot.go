// Package percpu implements per-CPU scheduler state: one Slot per
// logical processor, holding that CPU's run queues, current and idle
// threads, reschedule flag, quantum accounting, and TSC base. cpu.CPU is
// the architecture-level half of the same processor; this package adds
// the scheduler-visible fields on top of it.
package percpu

import (
	"sync/atomic"

	"github.com/kernel-go/corekit/kernelsync"
	"github.com/kernel-go/corekit/sched"
)

// classCount is the number of run queues a Slot maintains — one per
// non-Idle priority class (RealTime, High, Normal, Low). Idle threads are
// never enqueued; PopHighestRunnable's caller falls back to IdleThread.
const classCount = 4

// Slot is one logical processor's scheduler-visible state.
type Slot struct {
	// PhysicalAPICID is assigned at bring-up (smp.Bringup), LogicalIndex
	// after the post-rendezvous sort by physical APIC ID.
	PhysicalAPICID uint32
	LogicalIndex   int

	// TSCBase is this CPU's TSC base, recorded once per the rendezvous
	// ordering resolved in DESIGN.md's Open Questions section.
	TSCBase uint64

	lock    kernelsync.Spinlock
	idle    *sched.Thread
	current atomic.Pointer[sched.Thread]
	resched atomic.Bool
	active  atomic.Bool
	queues  [classCount]runqueue
}

// Activate marks this slot's processor as having completed its trampoline
// and entered the wait-for-activation spin. Written once, by the AP
// itself, during smp.APStartup.
func (s *Slot) Activate() {
	s.active.Store(true)
}

// Activated reports whether this slot's processor has registered itself.
// Polled by the BSP during the bring-up rendezvous.
func (s *Slot) Activated() bool {
	return s.active.Load()
}

// IdleThread returns this CPU's idle thread, scheduled only when every run
// queue is empty. Exposed as a method (rather than the
// Idle field this type carried earlier) so *Slot satisfies sched.CPUSlot
// structurally without sched importing percpu — the dependency runs
// percpu → sched only, avoiding an import cycle between the scheduler and
// its per-CPU state.
func (s *Slot) IdleThread() *sched.Thread {
	return s.idle
}

// SetIdleThread installs this CPU's idle thread, once, during bring-up.
func (s *Slot) SetIdleThread(t *sched.Thread) {
	s.idle = t
}

// Current returns the thread currently Running on this CPU — the
// hottest read in the kernel. Implemented via atomic.Pointer rather than
// a GS-segment base read; the GS fast path belongs to the assembly layer,
// and this is the portable stand-in the rest of the scheduler is written
// and tested against.
func (s *Slot) Current() *sched.Thread {
	return s.current.Load()
}

// SetCurrent installs t as the thread Running on this CPU. Called only by
// the dispatcher on this CPU.
func (s *Slot) SetCurrent(t *sched.Thread) {
	s.current.Store(t)
}

// Reschedule reports whether a reschedule is pending on this CPU.
func (s *Slot) Reschedule() bool {
	return s.resched.Load()
}

// SetReschedule sets or clears the reschedule-pending flag. Settable from
// IPI context (cross-CPU wake) as well as locally.
func (s *Slot) SetReschedule(v bool) {
	s.resched.Store(v)
}

// classIndex maps a non-Idle priority to its run-queue slot.
func classIndex(p sched.Priority) int {
	return int(p)
}

// PushRunnable inserts id (of priority p) into the appropriate run queue.
// If p is strictly higher priority than the CPU's current thread, it also
// sets reschedule-pending, so the caller does not need a separate
// priority comparison step.
func (s *Slot) PushRunnable(p sched.Priority, id sched.ThreadID) bool {
	if p == sched.Idle {
		return false
	}

	s.lock.Acquire()
	ok := s.queues[classIndex(p)].pushBack(id)
	s.lock.Release()

	if ok {
		if cur := s.Current(); cur != nil && p < cur.Priority {
			s.SetReschedule(true)
		}
	}

	return ok
}

// PushFront re-inserts id at the head of its class's queue — used when a
// thread is preempted with quantum remaining.
func (s *Slot) PushFront(p sched.Priority, id sched.ThreadID) bool {
	if p == sched.Idle {
		return false
	}

	s.lock.Acquire()
	defer s.lock.Release()
	return s.queues[classIndex(p)].pushFront(id)
}

// PopHighestRunnable returns the highest-priority Runnable thread across
// every class, breaking ties by FIFO within the class. Returns false if
// every run queue is empty — the caller (Scheduler.Dispatch) falls back to
// IdleThread.
func (s *Slot) PopHighestRunnable() (sched.ThreadID, sched.Priority, bool) {
	s.lock.Acquire()
	defer s.lock.Release()

	for class := 0; class < classCount; class++ {
		if id, ok := s.queues[class].popFront(); ok {
			return id, sched.Priority(class), true
		}
	}

	return 0, sched.Idle, false
}

// QueueLen reports how many threads of priority p are currently enqueued,
// for diagnostics and tests.
func (s *Slot) QueueLen(p sched.Priority) int {
	if p == sched.Idle {
		return 0
	}

	s.lock.Acquire()
	defer s.lock.Release()
	return s.queues[classIndex(p)].len()
}

// AccountTick decrements the running thread's quantum, if it has one
// (RealTime and Idle threads never consult quantum), and sets
// reschedule-pending on exhaustion. Called once per timer tick by
// Scheduler.Tick for whichever CPU the tick fired on.
func (s *Slot) AccountTick() {
	cur := s.Current()
	if cur == nil || cur.Priority == sched.RealTime || cur.Priority == sched.Idle {
		return
	}

	cur.Quantum--
	if cur.Quantum <= 0 {
		s.SetReschedule(true)
	}
}
