package apic

import "github.com/kernel-go/corekit/internal/reg"

// ACPI PM Timer constants (ACPI spec §4.8.3.3).
const (
	acpiPMTimerPort = 0xb008
	acpiPMFreq      = 3579545
)

// TimeSource supplies an external, already-known-frequency time reference
// Calibrate can compare the TSC against. KVMPairingSource and the ACPI PM
// timer are the two sources this module has a driver for; a caller with
// neither available (no KVM clock page, no ACPI PM timer port) passes nil
// and receives 0, leaving the timer frequency unknown.
type TimeSource interface {
	// Sample returns a (nanoseconds, tsc) pair read as closely together as
	// the source allows.
	Sample() (nsec int64, tsc uint64)
}

// Calibrate derives the TSC's rate in ticks per microsecond by taking two
// samples from ref and dividing the observed TSC delta by the observed
// time delta. It returns 0 if ref is nil or the two samples report no
// elapsed time.
func Calibrate(ref TimeSource) (ticksPerMicrosecond uint32) {
	if ref == nil {
		return 0
	}

	nsecA, tscA := ref.Sample()
	nsecB, tscB := ref.Sample()

	den := nsecB - nsecA
	if den <= 0 {
		return 0
	}

	return uint32((tscB - tscA) * 1000 / uint64(den))
}

// ACPITimeSource calibrates against the ACPI Power Management Timer, a
// fixed 3.579545MHz free-running counter exposed on I/O port 0xb008. It
// implements the TimeSource interface so it composes with the shared
// Calibrate above rather than duplicating a polling loop per caller.
type ACPITimeSource struct {
	readTSC func() uint64
}

// NewACPITimeSource returns a TimeSource backed by the ACPI PM timer,
// reading the TSC via readTSC (normally cpu.CPU.Counter).
func NewACPITimeSource(readTSC func() uint64) *ACPITimeSource {
	return &ACPITimeSource{readTSC: readTSC}
}

// Sample reads the current ACPI PM tick converted to nanoseconds alongside
// the TSC, satisfying TimeSource.
func (a *ACPITimeSource) Sample() (nsec int64, tsc uint64) {
	ticks := reg.In32(acpiPMTimerPort) & 0xffffff
	nsec = int64(ticks) * 1e9 / acpiPMFreq
	tsc = a.readTSC()
	return nsec, tsc
}
