package sched_test

import (
	"fmt"
	"testing"

	"github.com/kernel-go/corekit/percpu"
	"github.com/kernel-go/corekit/sched"
)

// fakeAlloc is a trivial mm.Allocator backed by an incrementing counter
// standing in for real stack memory, plus a record of freed tops so tests
// can assert the reaper ran.
type fakeAlloc struct {
	next  uintptr
	freed []uintptr
	fail  bool
}

func newFakeAlloc() *fakeAlloc {
	return &fakeAlloc{next: 0x100000}
}

func (a *fakeAlloc) AllocStack(size uintptr) (uintptr, error) {
	if a.fail {
		return 0, fmt.Errorf("out of stack memory")
	}
	a.next += size
	return a.next, nil
}

func (a *fakeAlloc) FreeStack(top uintptr) {
	a.freed = append(a.freed, top)
}

func (a *fakeAlloc) ReserveBelow1MiB(size uintptr) (uintptr, error) {
	return 0x8000, nil
}

func (a *fakeAlloc) AllocSlab(kind string) (uintptr, error) {
	return 0x200000, nil
}

func newSlots(n int) []sched.CPUSlot {
	slots := make([]sched.CPUSlot, n)
	for i := range slots {
		s := &percpu.Slot{LogicalIndex: i}
		s.SetIdleThread(&sched.Thread{Priority: sched.Idle, State: sched.Running})
		slots[i] = s
	}
	return slots
}

func TestSpawnRejectsIdlePriority(t *testing.T) {
	s := sched.New(newFakeAlloc(), newSlots(1))

	if _, err := s.Spawn(0, sched.Idle, 0, 0); err == nil {
		t.Fatal("expected Idle-class spawn to be rejected")
	}
}

func TestSpawnSurfacesAllocationFailureAsValue(t *testing.T) {
	alloc := newFakeAlloc()
	alloc.fail = true
	s := sched.New(alloc, newSlots(1))

	_, err := s.Spawn(0, sched.Normal, 0, 0)
	if err == nil {
		t.Fatal("expected spawn to report allocation failure")
	}
	var spawnErr *sched.SpawnError
	if !asSpawnError(err, &spawnErr) {
		t.Fatalf("expected *sched.SpawnError, got %T: %v", err, err)
	}
}

func TestSpawnReportsRunQueueExhaustion(t *testing.T) {
	alloc := newFakeAlloc()
	slots := newSlots(1)
	s := sched.New(alloc, slots)

	// Fill one class's queue until spawn reports exhaustion as a value.
	var err error
	spawned := 0
	for i := 0; i < 300; i++ {
		if _, err = s.Spawn(0, sched.Normal, 0, 0); err != nil {
			break
		}
		spawned++
	}

	if err == nil {
		t.Fatal("expected spawn to fail once the class queue filled")
	}
	var spawnErr *sched.SpawnError
	if !asSpawnError(err, &spawnErr) {
		t.Fatalf("expected *sched.SpawnError, got %T: %v", err, err)
	}

	// The failed spawn's stack went back to the allocator, and the thread
	// is not registered.
	if len(alloc.freed) != 1 {
		t.Fatalf("expected the failed spawn's stack freed; got %d frees", len(alloc.freed))
	}
	if got := slots[0].(*percpu.Slot).QueueLen(sched.Normal); got != spawned {
		t.Fatalf("expected %d queued threads; got %d", spawned, got)
	}
}

func asSpawnError(err error, target **sched.SpawnError) bool {
	se, ok := err.(*sched.SpawnError)
	if ok {
		*target = se
	}
	return ok
}

func TestPriorityPreemption(t *testing.T) {
	// On one CPU, Low runs; spawning High must make High the dispatched
	// thread at the very next reschedule point.
	slots := newSlots(1)
	s := sched.New(newFakeAlloc(), slots)

	lowID, err := s.Spawn(0, sched.Low, 0, 0)
	if err != nil {
		t.Fatalf("spawn low: %v", err)
	}
	s.Dispatch(0)
	if got := slots[0].Current().ID; got != lowID {
		t.Fatalf("expected low thread running, got %d", got)
	}

	highID, err := s.Spawn(0, sched.High, 0, 0)
	if err != nil {
		t.Fatalf("spawn high: %v", err)
	}
	if !slots[0].Reschedule() {
		t.Fatal("expected reschedule-pending after a higher-priority spawn")
	}

	s.Dispatch(0)
	if got := slots[0].Current().ID; got != highID {
		t.Fatalf("expected high thread dispatched next, got %d", got)
	}
}

func TestRealTimeNeverPreemptedByTick(t *testing.T) {
	// A RealTime thread must survive any number of timer ticks without
	// losing Running state to the timer alone.
	slots := newSlots(1)
	s := sched.New(newFakeAlloc(), slots)

	rtID, err := s.Spawn(0, sched.RealTime, 0, 0)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	s.Dispatch(0)
	if slots[0].Current().ID != rtID {
		t.Fatal("expected realtime thread dispatched")
	}

	for i := 0; i < 1000; i++ {
		s.Tick(0)
	}

	if slots[0].Current().ID != rtID {
		t.Fatalf("expected realtime thread to remain current after 1000 ticks, got %d", slots[0].Current().ID)
	}
}

func TestYieldMovesThreadToTailOfItsClass(t *testing.T) {
	slots := newSlots(1)
	s := sched.New(newFakeAlloc(), slots)

	a, _ := s.Spawn(0, sched.Normal, 0, 0)
	b, _ := s.Spawn(0, sched.Normal, 0, 0)
	s.Dispatch(0)
	if slots[0].Current().ID != a {
		t.Fatalf("expected %d dispatched first, got %d", a, slots[0].Current().ID)
	}

	s.Yield(0)
	if slots[0].Current().ID != b {
		t.Fatalf("expected %d dispatched after yield, got %d", b, slots[0].Current().ID)
	}

	s.Yield(0)
	if slots[0].Current().ID != a {
		t.Fatalf("expected %d dispatched after second yield (round-robin), got %d", a, slots[0].Current().ID)
	}
}

func TestSleepWakesOnTick(t *testing.T) {
	// A sleeper becomes Runnable within a tick of its wake deadline, and
	// is not left duplicated on the sleep list.
	slots := newSlots(1)
	s := sched.New(newFakeAlloc(), slots)

	sleeperID, _ := s.Spawn(0, sched.Normal, 0, 0)
	s.Dispatch(0)
	if slots[0].Current().ID != sleeperID {
		t.Fatal("expected sleeper dispatched first")
	}

	s.Sleep(0, 3)
	// Dispatch fell through to idle since nothing else is runnable.
	if slots[0].Current().Priority != sched.Idle {
		t.Fatalf("expected idle thread while sleeper parked, got priority %v", slots[0].Current().Priority)
	}

	for i := 0; i < 3; i++ {
		s.Tick(0)
	}

	if slots[0].Current().ID != sleeperID {
		t.Fatalf("expected sleeper woken and redispatched, got %d", slots[0].Current().ID)
	}
}

func TestWaitTimeoutReportsTimedOut(t *testing.T) {
	slots := newSlots(1)
	s := sched.New(newFakeAlloc(), slots)

	waiterID, _ := s.Spawn(0, sched.Normal, 0, 0)
	s.Dispatch(0)

	sem := sched.NewSemaphore(0)
	s.WaitTimeout(0, sem, 2)

	for i := 0; i < 2; i++ {
		s.Tick(0)
	}

	if slots[0].Current().ID != waiterID {
		t.Fatalf("expected timed-out waiter redispatched, got %d", slots[0].Current().ID)
	}
	if !slots[0].Current().WaitTimedOut {
		t.Fatal("expected WaitTimedOut set on the redispatched thread")
	}
}

func TestSignalSemaphoreWakesOneWaiter(t *testing.T) {
	slots := newSlots(1)
	s := sched.New(newFakeAlloc(), slots)

	waiterID, _ := s.Spawn(0, sched.Normal, 0, 0)
	s.Dispatch(0)

	sem := sched.NewSemaphore(0)
	s.Wait(0, sem)
	if slots[0].Current().Priority != sched.Idle {
		t.Fatal("expected idle while waiter blocked")
	}

	s.Signal(sem, 0)
	s.Dispatch(0)

	if slots[0].Current().ID != waiterID {
		t.Fatalf("expected waiter woken by signal, got %d", slots[0].Current().ID)
	}
}

func TestJoinWakesOnTerminate(t *testing.T) {
	slots := newSlots(2)
	s := sched.New(newFakeAlloc(), slots)

	targetID, _ := s.Spawn(0, sched.Normal, 0, 0)
	s.Dispatch(0)
	if slots[0].Current().ID != targetID {
		t.Fatalf("expected target dispatched on cpu0, got %d", slots[0].Current().ID)
	}

	joinerID, _ := s.Spawn(1, sched.Normal, 0, 0)
	s.Dispatch(1)
	if slots[1].Current().ID != joinerID {
		t.Fatalf("expected joiner dispatched on cpu1, got %d", slots[1].Current().ID)
	}

	s.Join(1, targetID)
	if slots[1].Current().Priority != sched.Idle {
		t.Fatal("expected cpu1 idle while joiner blocks on a live target")
	}

	s.Terminate(targetID)
	s.Dispatch(1)

	if slots[1].Current().ID != joinerID {
		t.Fatalf("expected joiner woken by target termination, got %d", slots[1].Current().ID)
	}
}

func TestTerminateReapsStackOnNextTick(t *testing.T) {
	alloc := newFakeAlloc()
	slots := newSlots(1)
	s := sched.New(alloc, slots)

	id, _ := s.Spawn(0, sched.Normal, 0, 0)
	s.Dispatch(0)
	if slots[0].Current().ID != id {
		t.Fatal("expected spawned thread dispatched")
	}

	s.Terminate(id)
	s.Tick(0)

	if len(alloc.freed) != 1 {
		t.Fatalf("expected exactly one stack freed by the reaper, got %d", len(alloc.freed))
	}
}

func TestCrossCPUWakeSendsIPIOnlyWhenHigherPriority(t *testing.T) {
	// Waking a thread on a remote CPU sends a reschedule IPI only if that
	// remote CPU's current thread is strictly lower priority.
	slots := newSlots(2)
	s := sched.New(newFakeAlloc(), slots)

	var notified []int
	s.SetNotifyRemote(func(idx int) { notified = append(notified, idx) })

	// CPU1 runs a Low thread; waking a Normal thread there must IPI.
	lowID, _ := s.Spawn(1, sched.Low, 0, 0)
	s.Dispatch(1)
	if slots[1].Current().ID != lowID {
		t.Fatal("expected low thread running on cpu1")
	}

	sem := sched.NewSemaphore(0)
	normalID, _ := s.Spawn(1, sched.Normal, 0, 0)
	s.Dispatch(1) // normal preempts low (higher priority)
	if slots[1].Current().ID != normalID {
		t.Fatal("expected normal thread running on cpu1")
	}
	s.Wait(1, sem)

	// Caller is on CPU0; signalling wakes the Normal thread on CPU1, whose
	// current (Low, re-queued by the earlier preemption) is lower priority
	// than Normal, so this must IPI CPU1.
	s.Signal(sem, 0)

	if len(notified) != 1 || notified[0] != 1 {
		t.Fatalf("expected exactly one IPI to cpu1, got %v", notified)
	}
}

func TestQuantumFairnessBetweenTwoNormalThreads(t *testing.T) {
	// Two Normal threads with no other work split ticks within 2% of
	// half over many ticks.
	slots := newSlots(1)
	s := sched.New(newFakeAlloc(), slots)

	a, _ := s.Spawn(0, sched.Normal, 0, 0)
	b, _ := s.Spawn(0, sched.Normal, 0, 0)
	s.Dispatch(0)

	ticksFor := map[sched.ThreadID]int{a: 0, b: 0}
	const total = 10000
	for i := 0; i < total; i++ {
		ticksFor[slots[0].Current().ID]++
		s.Tick(0)
	}

	share := float64(ticksFor[a]) / float64(total)
	if share < 0.48 || share > 0.52 {
		t.Fatalf("expected roughly even split, thread %d got share %.4f (counts: %v)", a, share, ticksFor)
	}
}

func TestDispatchFallsBackToIdleWhenNoRunnableThread(t *testing.T) {
	slots := newSlots(1)
	s := sched.New(newFakeAlloc(), slots)

	s.Dispatch(0)
	if slots[0].Current() == nil || slots[0].Current().Priority != sched.Idle {
		t.Fatal("expected idle thread dispatched with nothing else runnable")
	}
}
