package smp

import (
	"sort"
	"time"

	"github.com/kernel-go/corekit/apic"
	"github.com/kernel-go/corekit/kernel"
	"github.com/kernel-go/corekit/mm"
	"github.com/kernel-go/corekit/percpu"
)

// trampolinePageSize is the size of the 4KiB-aligned, sub-1MiB page the
// real-mode payload is copied into.
const trampolinePageSize = 4096

// Config parameterizes one SMP bring-up run: the platform values Prepare
// snapshots into SMPINFO, and the timing bring-up waits on.
type Config struct {
	// MaxCPU is the total CPU count (BSP + APs). 0 or 1 disables SMP
	// entirely.
	MaxCPU int

	StackChunkSize uint32

	// TrampolineVector identifies the 4KiB page the Startup-IPI targets
	// (its physical address >> 12, per the AMD64 APM §15.27.8 AP startup
	// sequence).
	TrampolineVector uint8

	// ActivationTimeout bounds how long Bringup waits for every AP to
	// report activation before panicking.
	ActivationTimeout time.Duration

	CR3, CR4, EFER uint64

	IDTRLimit uint16
	IDTRBase  uint64

	Start64Selector uint16
	Start64Offset   uint32

	APEntry uint64
}

// payload is the 16-bit real-mode AP trampoline, assembled and linked
// separately (it targets a CPU mode the Go toolchain cannot emit).
// Prepare copies it verbatim into the reserved sub-1MiB page; this module
// never interprets its contents.
var payload []byte

// Prepare reserves the trampoline page, allocates the AP stack region,
// copies the real-mode payload, and fills every SMPINFO field — the
// BSP-side setup that must complete before any SIPI is broadcast. It
// returns an error rather than panicking on allocation failure:
// bring-up-time resource exhaustion is a configuration problem, not an
// invariant violation.
func Prepare(cfg Config, alloc mm.Allocator) (*Info, error) {
	info := newInfo()

	if cfg.MaxCPU <= 1 {
		info.MaxCPU = uint16(cfg.MaxCPU)
		return info, nil
	}

	trampolineAddr, err := alloc.ReserveBelow1MiB(trampolinePageSize)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 {
		copyPayload(trampolineAddr, payload)
	}

	apCount := cfg.MaxCPU - 1
	stackTop, err := alloc.AllocStack(uintptr(cfg.StackChunkSize) * uintptr(apCount))
	if err != nil {
		return nil, err
	}

	info.MaxCPU = uint16(cfg.MaxCPU)
	info.StackChunkSize = cfg.StackChunkSize
	info.StackBase = uint64(stackTop) - uint64(cfg.StackChunkSize)*uint64(apCount)
	info.SavedCR3 = cfg.CR3
	info.SavedCR4 = cfg.CR4
	info.SavedEFER = cfg.EFER &^ (1 << 10) // clear LMA; set again once paging re-enables long mode
	info.SavedIDTRLimit = cfg.IDTRLimit
	info.SavedIDTRBase = cfg.IDTRBase
	info.Start64Selector = cfg.Start64Selector
	info.Start64Offset = cfg.Start64Offset
	info.APEntry = cfg.APEntry
	info.GDTBase = uint64(trampolineAddr) // trampoline page also hosts the minimal GDT

	return info, nil
}

// copyPayload is the MMIO-style copy of the real-mode blob into the
// reserved page; swappable so tests never touch real low memory.
var copyPayload = func(addr uintptr, p []byte) {}

// sipiDelay is the pause between the INIT IPI and the first Startup-IPI.
// A package variable so simulated bring-up tests run instantly.
var sipiDelay = 10 * time.Millisecond

var sleepFn = time.Sleep

// tscNow reads the calling CPU's TSC base value at rendezvous time;
// swappable for simulated tests.
var tscNow = func() uint64 { return 0 }

// Bringup starts every AP: it broadcasts INIT and a double Startup-IPI,
// polls the per-slot activation flags until every AP has
// registered (panicking via kernel.Panic on timeout), sorts slots by
// physical APIC ID to assign monotonic logical indices, records the BSP's
// TSC base, and releases the activation barrier so each AP records its
// own base immediately (AwaitActivation).
//
// slots must contain one slot per logical processor; slots[0] is the BSP
// and is not waited on for activation. AP slots' PhysicalAPICID fields
// are filled in by the APs themselves during APStartup.
func Bringup(cfg Config, info *Info, lapic *apic.LAPIC, slots []*percpu.Slot) error {
	if cfg.MaxCPU <= 1 {
		return nil
	}

	if int(info.MaxCPU) != cfg.MaxCPU || len(slots) != cfg.MaxCPU {
		kernel.Panic(&kernel.Error{
			Module:  "smp",
			Message: "SMPINFO block does not match bring-up configuration",
		})
		return nil
	}

	bsp := slots[0]
	apStalled.Store(true)

	lapic.BroadcastINIT()
	sleepFn(sipiDelay)

	lapic.BroadcastStartupIPI(cfg.TrampolineVector)
	lapic.BroadcastStartupIPI(cfg.TrampolineVector)

	deadline := timeNow().Add(cfg.ActivationTimeout)

	for _, ap := range slots[1:] {
		for !ap.Activated() {
			if timeNow().After(deadline) {
				kernel.Panic(&kernel.Error{
					Module:  "smp",
					Message: "AP activation timeout",
				})
				return nil
			}
			spinWait()
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		return slots[i].PhysicalAPICID < slots[j].PhysicalAPICID
	})
	for i, s := range slots {
		s.LogicalIndex = i
	}

	// The BSP records its TSC base first, then clears the barrier; each
	// AP records its own base on observing the clear. Callers must not
	// assume cross-CPU TSC equality beyond a small skew.
	bsp.TSCBase = tscNow()
	apStalled.Store(false)

	return nil
}

// timeNow, spinWait are swappable exactly as internal/reg's are, so
// Bringup's timeout loop can be driven deterministically in tests.
var timeNow = time.Now
var spinWait = func() {}
