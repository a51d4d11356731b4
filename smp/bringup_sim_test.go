package smp

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/kernel-go/corekit/apic"
	"github.com/kernel-go/corekit/kernel"
	"github.com/kernel-go/corekit/percpu"
)

func newFakeLAPIC() *apic.LAPIC {
	mem := make([]byte, 0x400)
	return &apic.LAPIC{Base: uint32(uintptr(unsafe.Pointer(&mem[0])))}
}

// withSimClock replaces the package time/spin/TSC hooks with deterministic
// fakes: the TSC is a monotonic counter, sleeps are no-ops, and spinning
// yields so simulated AP goroutines make progress.
func withSimClock(t *testing.T) {
	origTimeNow := timeNow
	origSpinWait := spinWait
	origSleep := sleepFn
	origTSC := tscNow

	var tsc atomic.Uint64
	spinWait = runtime.Gosched
	sleepFn = func(time.Duration) {}
	tscNow = func() uint64 { return tsc.Add(1) }

	t.Cleanup(func() {
		timeNow = origTimeNow
		spinWait = origSpinWait
		sleepFn = origSleep
		tscNow = origTSC
		apStalled.Store(false)
	})
}

func preparedInfo(maxCPU int, chunk uint32) *Info {
	info := newInfo()
	info.MaxCPU = uint16(maxCPU)
	info.StackChunkSize = chunk
	info.StackBase = 0x100000
	return info
}

func TestBringupRendezvousSortsAndRecordsTSCBases(t *testing.T) {
	withSimClock(t)

	info := preparedInfo(4, 0x10000)
	slots := []*percpu.Slot{{PhysicalAPICID: 0}, {}, {}, {}}

	// On hardware no AP runs before the SIPI broadcast; raise the
	// barrier up front so the simulated APs, which start immediately,
	// cannot record a TSC base ahead of the BSP.
	apStalled.Store(true)

	// Simulated APs arrive out of APIC-ID order.
	var wg sync.WaitGroup
	for _, apicID := range []uint32{3, 1, 2} {
		wg.Add(1)
		go func(apicID uint32) {
			defer wg.Done()
			slot, _, ok := APStartup(info, slots, apicID)
			if !ok {
				t.Errorf("AP %d rejected", apicID)
				return
			}
			AwaitActivation(slot)
		}(apicID)
	}

	cfg := Config{MaxCPU: 4, ActivationTimeout: 5 * time.Second}
	if err := Bringup(cfg, info, newFakeLAPIC(), slots); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wg.Wait()

	for i, s := range slots {
		if int(s.PhysicalAPICID) != i {
			t.Fatalf("slot %d: expected physical APIC ID %d; got %d", i, i, s.PhysicalAPICID)
		}
		if s.LogicalIndex != i {
			t.Fatalf("slot %d: expected logical index %d; got %d", i, i, s.LogicalIndex)
		}
	}

	// The BSP recorded its base before releasing the barrier, so every
	// AP base is strictly later.
	bspBase := slots[0].TSCBase
	if bspBase == 0 {
		t.Fatal("expected BSP TSC base recorded")
	}
	for _, s := range slots[1:] {
		if s.TSCBase <= bspBase {
			t.Fatalf("expected AP (APIC %d) TSC base after BSP's %d; got %d", s.PhysicalAPICID, bspBase, s.TSCBase)
		}
	}
}

func TestBringupMaxCPUOneSkipsActivation(t *testing.T) {
	withSimClock(t)

	slots := []*percpu.Slot{{PhysicalAPICID: 0}}
	cfg := Config{MaxCPU: 1, ActivationTimeout: time.Second}

	if err := Bringup(cfg, preparedInfo(1, 0x10000), newFakeLAPIC(), slots); err != nil {
		t.Fatalf("expected MaxCPU==1 to complete without error; got %v", err)
	}
}

func TestBringupTimeoutPanics(t *testing.T) {
	defer kernel.SetHaltFunc(nil)

	panicked := false
	kernel.SetHaltFunc(func() { panicked = true })

	withSimClock(t)

	// No simulated AP ever activates; drive the clock forward on every
	// poll so the deadline passes.
	tick := time.Now()
	timeNow = func() time.Time { return tick }
	spinWait = func() { tick = tick.Add(time.Millisecond) }

	slots := []*percpu.Slot{{PhysicalAPICID: 0}, {}}
	cfg := Config{MaxCPU: 2, ActivationTimeout: 5 * time.Millisecond}

	Bringup(cfg, preparedInfo(2, 0x10000), newFakeLAPIC(), slots)

	if !panicked {
		t.Fatal("expected activation timeout to invoke the panic path")
	}
}

func TestAPStartupComputesStackTopFromLogicalID(t *testing.T) {
	withSimClock(t)

	info := preparedInfo(3, 0x10000)
	slots := []*percpu.Slot{{PhysicalAPICID: 0}, {}, {}}

	slot1, top1, ok := APStartup(info, slots, 7)
	if !ok {
		t.Fatal("first AP rejected")
	}
	if want := info.StackBase + uint64(info.StackChunkSize); top1 != want {
		t.Fatalf("first AP stack top = %#x; expected %#x", top1, want)
	}
	if slot1 != slots[1] || !slot1.Activated() {
		t.Fatal("expected the first AP to claim and activate slot 1")
	}

	_, top2, ok := APStartup(info, slots, 5)
	if !ok {
		t.Fatal("second AP rejected")
	}
	if want := info.StackBase + 2*uint64(info.StackChunkSize); top2 != want {
		t.Fatalf("second AP stack top = %#x; expected %#x", top2, want)
	}

	if slots[1].PhysicalAPICID != 7 || slots[2].PhysicalAPICID != 5 {
		t.Fatalf("expected APIC IDs recorded in claim order; got %d, %d",
			slots[1].PhysicalAPICID, slots[2].PhysicalAPICID)
	}
}

func TestAPStartupHaltsArrivalsPastMaxCPU(t *testing.T) {
	withSimClock(t)

	info := preparedInfo(2, 0x10000)
	slots := []*percpu.Slot{{PhysicalAPICID: 0}, {}}

	if _, _, ok := APStartup(info, slots, 1); !ok {
		t.Fatal("expected the in-range AP accepted")
	}
	if _, _, ok := APStartup(info, slots, 2); ok {
		t.Fatal("expected the AP past MaxCPU rejected")
	}
}

func TestMarshalBinaryLayout(t *testing.T) {
	info := preparedInfo(4, 0x10000)
	info.SavedCR3 = 0x1000

	b, err := info.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	const wantLen = 98
	if len(b) != wantLen {
		t.Fatalf("expected %d-byte SMPINFO block; got %d", wantLen, len(b))
	}

	// the next-core counter leads the block and starts at 1 (BSP = 0)
	if b[0] != 1 || b[1] != 0 {
		t.Fatalf("expected next-core counter 1 at offset 0; got % x", b[:2])
	}
}
