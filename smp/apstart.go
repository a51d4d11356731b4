package smp

import (
	"sync/atomic"

	"github.com/kernel-go/corekit/percpu"
)

// apStalled is the activation barrier between the BSP and every AP. Set
// before the Startup-IPI broadcast; each AP that finishes its trampoline
// spins on it inside AwaitActivation until the BSP, having sorted the
// slot table and recorded its own TSC base, releases it. The release
// ordering makes every AP's TSC base strictly later than the BSP's, so
// TSC deltas are comparable across CPUs up to a small skew.
var apStalled atomic.Bool

// ClaimLogicalID models the real-mode trampoline's atomic fetch-and-add
// on the SMPINFO next-core counter. The returned ID is tentative: logical
// indices are reassigned after the post-rendezvous sort. ok is false when
// the claim exceeds MaxCPU — the trampoline halts such a processor
// without ever reaching APStartup.
func (info *Info) ClaimLogicalID() (int, bool) {
	id := atomic.AddUint32(&info.NextCore, 1) - 1
	if id >= uint32(info.MaxCPU) {
		return 0, false
	}

	return int(id), true
}

// APStartup is the Go tail of the AP entry path, reached from the 64-bit
// shim once long mode is active: it claims a tentative logical ID,
// computes the AP's stack top from the SMPINFO stack block, records the
// AP's physical APIC ID in its slot, and marks the slot active for the
// BSP's rendezvous poll. Installing the slot as the per-CPU current (the
// GS base write) happens in the assembly entry before this call.
//
// Returns the AP's slot and stack top, or ok=false if the processor
// arrived past MaxCPU, in which case the caller halts it.
func APStartup(info *Info, slots []*percpu.Slot, apicID uint32) (slot *percpu.Slot, stackTop uint64, ok bool) {
	id, ok := info.ClaimLogicalID()
	if !ok {
		return nil, 0, false
	}

	stackTop = info.StackBase + uint64(id)*uint64(info.StackChunkSize)

	slot = slots[id]
	slot.PhysicalAPICID = apicID
	slot.Activate()

	return slot, stackTop, true
}

// AwaitActivation spins until the BSP releases the activation barrier,
// then records this CPU's TSC base. On return the caller enters its idle
// thread.
func AwaitActivation(slot *percpu.Slot) {
	for apStalled.Load() {
		spinWait()
	}

	slot.TSCBase = tscNow()
}
