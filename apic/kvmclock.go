package apic

// KVMPairingSource calibrates the TSC against a KVM host's wall clock via
// the KVM_HC_CLOCK_PAIRING hypercall
// (https://docs.kernel.org/virt/kvm/x86/hypercalls.html). Preferred over
// ACPITimeSource when the KVM CPUID signature is present, since the host
// clock needs no polling loop.
type KVMPairingSource struct{}

// Sample issues the clock-pairing hypercall and returns the host's
// nanosecond timestamp alongside the local TSC reading the host captured
// it against.
func (KVMPairingSource) Sample() (nsec int64, tsc uint64) {
	sec, ns, tsc := kvmClockPairing()
	return sec*1e9 + ns, tsc
}

// kvmClockPairing issues the KVM_HC_CLOCK_PAIRING hypercall. Implemented
// in kvmclock_amd64.s.
func kvmClockPairing() (sec int64, nsec int64, tsc uint64)
