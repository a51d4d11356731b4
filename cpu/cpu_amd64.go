package cpu

// CPU represents one logical processor's architecture-level state: its
// APIC identity, detected features, and calibrated timer frequency. It is
// the architecture layer underneath percpu.Slot, which adds the
// scheduler-visible fields (run queues, current thread, quantum). Split
// this way so the scheduler's per-CPU state (percpu) does not need to
// import the architecture package's hardware-detection fields at all.
type CPU struct {
	// APICID is this processor's physical Local APIC identifier.
	APICID uint32

	// freq is the calibrated core frequency in Hz (0 until SetFreq is
	// called).
	freq uint32

	// invariantTSC reports whether the TSC advances at a constant rate
	// regardless of P-state (CPUID_APM.APM_TSC_INVARIANT).
	invariantTSC bool

	// tscDeadline reports LAPIC TSC-deadline timer mode support
	// (CPUID_INFO.INFO_TSC_DEADLINE).
	tscDeadline bool
}

// defined in cpu_amd64.s — halts the calling processor until the next
// interrupt (the Idle thread's dispatch target).
func halt()

// defined in cpu_amd64.s — issues a triple fault, used only by the panic
// path if software halt is somehow not honored.
func tripleFault()

// Halt suspends the calling processor until an interrupt arrives.
func (c *CPU) Halt() {
	halt()
}

// Features reports the subset of detected CPU features this core consults.
type Features struct {
	InvariantTSC bool
	TSCDeadline  bool
}

// DetectFeatures populates c's feature flags via CPUID.
func (c *CPU) DetectFeatures() Features {
	_, _, _, edx := cpuid(cpuidInfo, 0)
	c.tscDeadline = bitSet(edx, infoTSCDeadline)

	_, _, _, edx = cpuid(cpuidAPM, 0)
	c.invariantTSC = bitSet(edx, apmTSCInvariant)

	return Features{InvariantTSC: c.invariantTSC, TSCDeadline: c.tscDeadline}
}

func bitSet(word uint32, pos int) bool {
	return (word>>uint(pos))&1 == 1
}

// rawCPUID executes the CPUID instruction. Defined in cpu_amd64.s.
func rawCPUID(fn uint32, subfn uint32) (eax, ebx, ecx, edx uint32)

// cpuid is a package variable defaulting to rawCPUID so tests can supply a
// fake CPUID leaf table without real hardware, mirroring this module's
// convention of exposing hardware primitives as swappable function
// variables (internal/reg.spinWait, kernelsync.spinWait, cpu.stackWriter).
var cpuid = rawCPUID

// SetCPUIDFunc overrides the CPUID leaf reader, for tests.
func SetCPUIDFunc(fn func(fn uint32, subfn uint32) (eax, ebx, ecx, edx uint32)) {
	if fn == nil {
		fn = rawCPUID
	}
	cpuid = fn
}

// CPUID function/bit numbers this package consults (Intel SDM Vol 2A,
// CPUID instruction reference; AMD64 APM Vol 3 Appendix E.4).
const (
	cpuidInfo       = 0x01
	infoTSCDeadline = 24

	cpuidAPM        = 0x80000007
	apmTSCInvariant = 8
)
