// Package sched implements the priority-preemptive scheduler this kernel
// core dispatches threads with: five priority classes, per-CPU run
// queues, wait objects, and the voluntary/involuntary reschedule points
// that connect them.
package sched

import "github.com/kernel-go/corekit/cpu"

// ThreadID is a thread's stable identity. Queues and wait objects store
// IDs rather than *Thread pointers, resolved through Scheduler's registry
// — the arena-plus-stable-identity pattern this module uses to break the
// thread/wait-object cyclic reference without garbage-collected cycles
// becoming a correctness concern on a freestanding target.
type ThreadID uint32

// Priority is one of the five scheduling classes, ordered highest to
// lowest by declaration order (RealTime > High > Normal > Low > Idle).
type Priority int

const (
	RealTime Priority = iota
	High
	Normal
	Low
	Idle
)

// String names a priority class for diagnostics.
func (p Priority) String() string {
	switch p {
	case RealTime:
		return "realtime"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	case Idle:
		return "idle"
	default:
		return "unknown"
	}
}

// State is a thread's position in the scheduler state machine: Runnable →
// Running (dispatch); Running → Runnable (preempt/yield); Running →
// Waiting (block); Running → Dead (return from entry); Waiting →
// Runnable (signal/timeout); Dead → ∅ (reaper frees the stack). No other
// transition is legal.
type State int

const (
	Runnable State = iota
	Running
	Waiting
	Dead
)

// String names a state for diagnostics.
func (s State) String() string {
	switch s {
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// defaultQuantum returns each non-realtime class's tick allotment.
// Normal is the baseline; High runs longer between preemptions, Low
// shorter. RealTime and Idle threads never consult this (RealTime's
// quantum is infinite and is never decremented; Idle is never enqueued).
func defaultQuantum(p Priority) int32 {
	switch p {
	case High:
		return 20
	case Normal:
		return 10
	case Low:
		return 5
	default:
		return 0
	}
}

// Thread is the unit of scheduling.
type Thread struct {
	ID       ThreadID
	Priority Priority
	State    State

	// Ctx is the saved register/stack context cpu.Switch reads from and
	// writes to directly.
	Ctx *cpu.Context

	// StackTop and StackSize describe the thread's owned stack region, so
	// the reaper can return it to the allocator once the thread is Dead.
	StackTop  uintptr
	StackSize uintptr

	// HomeCPU is the logical index of the CPU this thread last ran on
	// (or was spawned pinned to); wake-ups re-enqueue it there.
	HomeCPU uint32

	// Quantum is the number of timer ticks remaining before this thread
	// must yield the CPU; meaningless (and never consulted) for RealTime
	// and Idle threads.
	Quantum int32

	// WaitObj is the wait object this thread is parked on while Waiting,
	// or nil.
	WaitObj *WaitObject

	// WaitTimedOut is set by Scheduler.wakeExpired when this thread's most
	// recent wait was ended by its deadline rather than by a Signal. A
	// thread reads this field once redispatched to learn why it was
	// woken, since this package models suspension as a state transition
	// rather than a blocking Go call that could return a result directly.
	WaitTimedOut bool

	// joinWaiters is the Join wait object other threads block on via
	// Scheduler.Join, created lazily on first join.
	joinWaiters *WaitObject

	// Entry and Arg are retained only for diagnostics; the actual
	// machine-word handoff happens via the stack layout cpu.NewThreadStack
	// built, not through these fields.
	Entry uintptr
	Arg   uintptr
}

// runnable reports whether the class is eligible for a run queue; the
// Idle class never is, so Idle-class spawn requests are rejected.
func (p Priority) runnable() bool {
	return p != Idle
}
