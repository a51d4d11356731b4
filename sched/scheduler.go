package sched

import (
	"sync"
	"sync/atomic"

	"github.com/kernel-go/corekit/cpu"
	"github.com/kernel-go/corekit/kernel"
	"github.com/kernel-go/corekit/mm"
)

// CPUSlot is the per-CPU state a Scheduler dispatches onto. Defined here
// (rather than importing percpu.Slot directly) so percpu can depend on
// sched's types without creating an import cycle; *percpu.Slot satisfies
// this interface structurally.
type CPUSlot interface {
	Current() *Thread
	SetCurrent(*Thread)
	Reschedule() bool
	SetReschedule(bool)
	PushRunnable(Priority, ThreadID) bool
	PushFront(Priority, ThreadID) bool
	PopHighestRunnable() (ThreadID, Priority, bool)
	AccountTick()
	IdleThread() *Thread
}

var (
	errIdleSpawn     = &kernel.Error{Module: "sched", Message: "cannot spawn a thread at Idle priority"}
	errUnknownThread = &kernel.Error{Module: "sched", Message: "unknown thread id"}
	errWaitInIRQ     = &kernel.Error{Module: "sched", Message: "blocking primitive called in interrupt context"}
	errRunQueueFull  = &kernel.Error{Module: "sched", Message: "run queue full"}
)

// SpawnError wraps the resource failure Spawn encountered (a failed stack
// allocation or a full run queue): resource exhaustion during spawn is
// surfaced to the caller as a value, never a panic.
type SpawnError struct {
	Cause error
}

func (e *SpawnError) Error() string {
	return "sched: spawn failed: " + e.Cause.Error()
}

func (e *SpawnError) Unwrap() error {
	return e.Cause
}

// defaultStackSize is the per-thread kernel stack size.
const defaultStackSize = 64 * 1024

type sleepEntry struct {
	wake uint64
	// wo is non-nil when this sleep entry backs a timed Wait — on firing,
	// the thread must be removed from wo's queue (it timed out, it was not
	// signaled) rather than just woken outright.
	wo *WaitObject
}

// Scheduler owns the thread registry and every CPU's dispatch state. The
// registry is guarded by a reader-dominant RWMutex; run
// queues and wait-object queues are guarded per-CPU/per-object by the
// CPUSlot implementation's own spinlock (percpu.Slot's kernelsync.Spinlock).
type Scheduler struct {
	mu      sync.RWMutex
	threads map[ThreadID]*Thread
	nextID  ThreadID

	slots []CPUSlot
	alloc mm.Allocator

	// inIRQ marks CPUs currently executing an interrupt service routine.
	// Blocking primitives called while the flag is set are an invariant
	// violation and panic.
	inIRQ []atomic.Bool

	sleeping map[ThreadID]sleepEntry
	ticks    uint64

	// notifyRemote sends a reschedule IPI to the CPU at the given slot
	// index, used by wake paths that target a different CPU than the
	// caller's. nil is a valid no-op,
	// letting single-CPU tests and configurations omit it.
	notifyRemote func(slotIndex int)

	// switchFn is invoked with (from, to) whenever Dispatch selects a new
	// current thread, standing in for the real cpu.Switch call a safe
	// return-from-interrupt path would make. nil skips the switch, as in
	// the scheduler tests; corekit.Init installs a hook that calls
	// cpu.Switch.
	switchFn func(from, to *Thread)
}

// New returns a Scheduler dispatching across slots, allocating thread
// stacks from alloc.
func New(alloc mm.Allocator, slots []CPUSlot) *Scheduler {
	return &Scheduler{
		threads:  make(map[ThreadID]*Thread),
		nextID:   1,
		slots:    slots,
		alloc:    alloc,
		sleeping: make(map[ThreadID]sleepEntry),
		inIRQ:    make([]atomic.Bool, len(slots)),
	}
}

// EnterInterrupt and LeaveInterrupt bracket interrupt-context execution
// on a CPU, so blocking primitives can detect — and panic on — a wait
// attempted from inside a service routine.
func (s *Scheduler) EnterInterrupt(slotIndex int) {
	s.inIRQ[slotIndex].Store(true)
}

func (s *Scheduler) LeaveInterrupt(slotIndex int) {
	s.inIRQ[slotIndex].Store(false)
}

// checkBlockable panics if the CPU at slotIndex is in interrupt context.
func (s *Scheduler) checkBlockable(slotIndex int) {
	if s.inIRQ[slotIndex].Load() {
		kernel.Panic(errWaitInIRQ)
	}
}

// SetNotifyRemote installs the cross-CPU reschedule IPI sender.
func (s *Scheduler) SetNotifyRemote(fn func(slotIndex int)) {
	s.notifyRemote = fn
}

// SetSwitchFunc installs the context-switch hook Dispatch invokes.
func (s *Scheduler) SetSwitchFunc(fn func(from, to *Thread)) {
	s.switchFn = fn
}

// newThreadContext is a package variable wrapping cpu.NewThreadStack
// (mirrors this module's convention of swappable hardware-facing
// primitives: internal/reg.spinWait, cpu.stackWriter). The scheduler tests
// do not replace it; they run the real cpu.NewThreadStack with cpu's
// default no-op stack writer.
var newThreadContext = defaultNewThreadContext

// defaultNewThreadContext is the production binding of newThreadContext.
func defaultNewThreadContext(top, entry, arg uintptr) *cpu.Context {
	return cpu.NewThreadStack(top, entry, arg)
}

// Spawn creates a new thread at priority p, pinned to the CPU at
// slotIndex, entering entry with argument arg. Idle-class spawn requests
// are rejected; allocation failure is returned as a
// *SpawnError rather than panicking.
func (s *Scheduler) Spawn(slotIndex int, p Priority, entry, arg uintptr) (ThreadID, error) {
	if p == Idle {
		return 0, errIdleSpawn
	}

	top, err := s.alloc.AllocStack(defaultStackSize)
	if err != nil {
		return 0, &SpawnError{Cause: err}
	}

	t := &Thread{
		Priority:  p,
		State:     Runnable,
		HomeCPU:   uint32(slotIndex),
		Ctx:       newThreadContext(top, entry, arg),
		StackTop:  top,
		StackSize: defaultStackSize,
		Quantum:   defaultQuantum(p),
		Entry:     entry,
		Arg:       arg,
	}

	s.mu.Lock()
	t.ID = s.nextID
	s.nextID++
	s.threads[t.ID] = t
	s.mu.Unlock()

	// A full class queue is resource exhaustion, reported to the caller
	// like a failed stack allocation; the thread must not stay registered
	// as Runnable while sitting in no queue.
	if !s.slots[slotIndex].PushRunnable(p, t.ID) {
		s.mu.Lock()
		delete(s.threads, t.ID)
		s.mu.Unlock()
		s.alloc.FreeStack(top)

		return 0, &SpawnError{Cause: errRunQueueFull}
	}

	return t.ID, nil
}

// Ticks returns the monotonic tick count across every CPU's timer.
func (s *Scheduler) Ticks() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticks
}

// lookup resolves id through the registry.
func (s *Scheduler) lookup(id ThreadID) *Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threads[id]
}

// Yield moves the calling CPU's current thread to the tail of its own
// queue and invokes the dispatcher.
func (s *Scheduler) Yield(slotIndex int) {
	slot := s.slots[slotIndex]
	cur := slot.Current()

	if cur != nil && cur.Priority != Idle {
		cur.State = Runnable
		slot.PushRunnable(cur.Priority, cur.ID)
	}

	s.Dispatch(slotIndex)
}

// Sleep places the calling CPU's current thread on the sleep list for the
// given number of ticks and dispatches.
func (s *Scheduler) Sleep(slotIndex int, ticks uint64) {
	s.checkBlockable(slotIndex)

	slot := s.slots[slotIndex]
	cur := slot.Current()
	if cur == nil {
		return
	}

	cur.State = Waiting
	cur.WaitObj = nil

	s.mu.Lock()
	s.sleeping[cur.ID] = sleepEntry{wake: s.ticks + ticks}
	s.mu.Unlock()

	s.Dispatch(slotIndex)
}

// Wait enqueues the calling CPU's current thread on wo and dispatches.
// A semaphore with a positive count is decremented instead, and the thread
// keeps running. It never returns a timed-out result — use WaitTimeout for
// a bounded wait.
func (s *Scheduler) Wait(slotIndex int, wo *WaitObject) {
	s.checkBlockable(slotIndex)

	slot := s.slots[slotIndex]
	cur := slot.Current()
	if cur == nil {
		return
	}

	if wo.Kind == KindSemaphore && wo.Count > 0 {
		wo.Count--
		return
	}

	cur.State = Waiting
	cur.WaitObj = wo
	cur.WaitTimedOut = false
	wo.enqueue(cur.ID)

	s.Dispatch(slotIndex)
}

// WaitTimeout is Wait bounded by a tick deadline. On expiry the thread is
// removed from wo's queue and returned to Runnable with
// Thread.WaitTimedOut set — a distinguished outcome, not an error,
// observable by the thread once it is redispatched rather than returned
// synchronously from this call (this package models
// suspension as a state transition, not a blocking Go call: the real
// resume point is the thread's own code after cpu.Switch returns into it).
func (s *Scheduler) WaitTimeout(slotIndex int, wo *WaitObject, ticks uint64) {
	s.checkBlockable(slotIndex)

	slot := s.slots[slotIndex]
	cur := slot.Current()
	if cur == nil {
		return
	}

	if wo.Kind == KindSemaphore && wo.Count > 0 {
		wo.Count--
		return
	}

	cur.State = Waiting
	cur.WaitObj = wo
	cur.WaitTimedOut = false
	wo.enqueue(cur.ID)

	s.mu.Lock()
	s.sleeping[cur.ID] = sleepEntry{wake: s.ticks + ticks, wo: wo}
	s.mu.Unlock()

	s.Dispatch(slotIndex)
}

// wake transitions thread id back to Runnable on its home CPU slot,
// sending a reschedule IPI if the home CPU is not the caller's and its
// current thread has strictly lower priority.
// callerSlot is the slot index performing the wake, or -1 if the
// wake originates outside any CPU's dispatch context (e.g. Terminate's
// wake of a joiner).
func (s *Scheduler) wake(id ThreadID, callerSlot int) {
	t := s.lookup(id)
	if t == nil {
		return
	}

	t.State = Runnable
	t.WaitObj = nil

	home := int(t.HomeCPU)
	if home < 0 || home >= len(s.slots) {
		home = 0
	}

	slot := s.slots[home]
	slot.PushRunnable(t.Priority, t.ID)

	if home != callerSlot && s.notifyRemote != nil {
		if remoteCur := slot.Current(); remoteCur != nil && t.Priority < remoteCur.Priority {
			s.notifyRemote(home)
		}
	}
}

// Signal wakes threads waiting on wo per its discipline:
// Semaphore wakes one waiter per call and increments the available count
// if none are waiting; Signal (flag) sets the flag and drains every
// waiter; Join wakes the single joiner. callerSlot identifies the CPU
// performing the signal, for cross-CPU wake accounting.
func (s *Scheduler) Signal(wo *WaitObject, callerSlot int) {
	switch wo.Kind {
	case KindSemaphore:
		wo.Count++
		if id, ok := wo.dequeue(); ok {
			wo.Count--
			s.clearSleepEntry(id)
			s.wake(id, callerSlot)
		}

	case KindSignal, KindJoin:
		wo.Flag = true
		for _, id := range wo.drainAll() {
			s.clearSleepEntry(id)
			s.wake(id, callerSlot)
		}

	case KindSleep:
		// Sleep wait objects are driven entirely by Tick's sleep-list
		// scan; Signal has no meaning for them.
	}
}

func (s *Scheduler) clearSleepEntry(id ThreadID) {
	s.mu.Lock()
	delete(s.sleeping, id)
	s.mu.Unlock()
}

// Terminate transitions thread id to Dead and wakes any joiners waiting
// on it; the reaper frees its stack on a later scheduling tick.
func (s *Scheduler) Terminate(id ThreadID) {
	t := s.lookup(id)
	if t == nil {
		kernel.Panic(errUnknownThread)
		return
	}

	t.State = Dead

	if t.joinWaiters != nil {
		s.Signal(t.joinWaiters, -1)
	}
}

// Join blocks the calling CPU's current thread until target transitions to
// Dead. Returns immediately (no wait) if target is already Dead or
// unknown.
func (s *Scheduler) Join(slotIndex int, target ThreadID) {
	t := s.lookup(target)
	if t == nil || t.State == Dead {
		return
	}

	s.mu.Lock()
	if t.joinWaiters == nil {
		t.joinWaiters = NewJoin(target)
	}
	wo := t.joinWaiters
	s.mu.Unlock()

	s.Wait(slotIndex, wo)
}

// Tick is the per-CPU timer-tick entry point: it advances
// the global tick count once, accounts the running thread's quantum on
// slotIndex, wakes any sleepers/timed-waits whose deadline has arrived,
// reaps Dead threads' stacks, and dispatches if a reschedule is now
// pending.
func (s *Scheduler) Tick(slotIndex int) {
	s.mu.Lock()
	s.ticks++
	now := s.ticks
	s.mu.Unlock()

	slot := s.slots[slotIndex]
	slot.AccountTick()
	s.wakeExpired(now, slotIndex)

	// A thread that returned from its entry function halts in BootstrapShim
	// without ever calling back into the scheduler; it stays
	// "current" Dead until the next tick observes it here and forces an
	// immediate reschedule rather than waiting out its remaining quantum.
	if cur := slot.Current(); cur != nil && cur.State == Dead {
		slot.SetReschedule(true)
	}

	if slot.Reschedule() {
		s.Dispatch(slotIndex)
	}

	// Reap after the dispatch above, so a Dead thread has been switched
	// away from before its stack is released.
	s.reap()
}

// reap frees the stack of every Dead thread not yet reclaimed, then drops
// it from the registry.
// Called once per Tick, so a thread's stack is released within one tick of
// Terminate rather than lingering indefinitely. A Dead thread still
// current on some CPU (it halted in the bootstrap shim, that CPU has not
// dispatched since) is skipped until a later tick.
func (s *Scheduler) reap() {
	var dead []*Thread

	s.mu.Lock()
	for id, t := range s.threads {
		if t.State != Dead {
			continue
		}

		stillCurrent := false
		for _, slot := range s.slots {
			if slot.Current() == t {
				stillCurrent = true
				break
			}
		}
		if stillCurrent {
			continue
		}

		dead = append(dead, t)
		delete(s.threads, id)
	}
	s.mu.Unlock()

	for _, t := range dead {
		s.alloc.FreeStack(t.StackTop)
	}
}

// wakeExpired scans the sleep list for entries whose deadline has passed,
// waking plain sleepers and timing out bounded waits.
func (s *Scheduler) wakeExpired(now uint64, callerSlot int) {
	var due []ThreadID

	s.mu.Lock()
	for id, entry := range s.sleeping {
		if entry.wake <= now {
			due = append(due, id)
			delete(s.sleeping, id)

			if entry.wo != nil {
				entry.wo.remove(id)
				if t := s.threads[id]; t != nil {
					t.WaitTimedOut = true
				}
			}
		}
	}
	s.mu.Unlock()

	for _, id := range due {
		s.wake(id, callerSlot)
	}
}

// Dispatch selects the highest-priority Runnable thread on slotIndex and
// makes it current, re-inserting the previously-current thread at the
// head of its queue if it still has quantum, otherwise at the tail with a
// refilled quantum. Voluntary
// operations (Yield/Sleep/Wait) already transition the outgoing thread out
// of Running before calling Dispatch, so this re-insertion logic only
// fires for a thread still marked Running — the tick-preemption case.
func (s *Scheduler) Dispatch(slotIndex int) {
	slot := s.slots[slotIndex]
	slot.SetReschedule(false)

	cur := slot.Current()
	if cur != nil && cur.State == Running {
		cur.State = Runnable

		if cur.Priority != Idle {
			if cur.Quantum > 0 {
				slot.PushFront(cur.Priority, cur.ID)
			} else {
				cur.Quantum = defaultQuantum(cur.Priority)
				slot.PushRunnable(cur.Priority, cur.ID)
			}
		}
	}

	var next *Thread
	if id, _, ok := slot.PopHighestRunnable(); ok {
		next = s.lookup(id)
	}
	if next == nil {
		next = slot.IdleThread()
	}
	if next == nil {
		return
	}

	next.State = Running
	next.HomeCPU = uint32(slotIndex)
	slot.SetCurrent(next)

	if s.switchFn != nil {
		s.switchFn(cur, next)
	}
}
