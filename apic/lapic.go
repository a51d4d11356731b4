// Package apic implements the Local APIC and IOAPIC drivers this kernel
// uses to broadcast INIT/Startup-IPI during SMP bring-up, to receive
// preemption timer ticks, and to deliver end-of-interrupt and cross-CPU
// reschedule IPIs.
package apic

import (
	"time"

	"github.com/kernel-go/corekit/internal/bits"
	"github.com/kernel-go/corekit/internal/reg"
	"github.com/kernel-go/corekit/kernel"
)

// LAPIC register offsets and ICR fields (Intel SDM Vol 3A Chapter 10);
// the timer initial-count/divide registers are described in §10.5.4.
const (
	regID  = 0x20
	idPos  = 24
	idMask = 0xf

	regVersion  = 0x30
	verEntries  = 16
	verEntryMsk = 0xff

	regEOI = 0xb0

	regSVR    = 0xf0
	svrEnable = 8

	regICRLow  = 0x300
	regICRHigh = 0x310

	icrDestShift = 18
	icrDestSelf  = 0b01 << icrDestShift
	icrDestAll   = 0b10 << icrDestShift
	icrDestRest  = 0b11 << icrDestShift

	icrInitLevel  = 14
	icrDlvStatus  = 12
	icrDlvShift   = 8
	dlvSIPI       = 0b110 << icrDlvShift
	dlvINIT       = 0b101 << icrDlvShift
	dlvNMI        = 0b100 << icrDlvShift
	dlvFixed      = 0b000 << icrDlvShift

	regLVTTimer    = 0x320
	regTimerICR    = 0x380 // Initial Count Register
	regTimerCCR    = 0x390 // Current Count Register
	regTimerDivide = 0x3e0

	timerModeShift = 17
	timerModeMask  = 0b11
	timerVectorMsk = 0xff
)

// TimerMode selects the LAPIC LVT Timer's operating mode.
type TimerMode uint32

const (
	TimerOneShot     TimerMode = 0b00
	TimerPeriodic    TimerMode = 0b01
	TimerTSCDeadline TimerMode = 0b10
)

// LAPIC represents one CPU's Local APIC, memory-mapped at Base.
type LAPIC struct {
	Base uint32
}

// ID returns the LAPIC's identification register (the physical APIC ID).
func (l *LAPIC) ID() uint32 {
	return reg.GetN(uint(l.Base)+regID, idPos, idMask)
}

// Version returns the LAPIC version register.
func (l *LAPIC) Version() uint32 {
	return reg.Read(uint(l.Base) + regVersion)
}

// Entries returns the number of entries in the local vector table.
func (l *LAPIC) Entries() int {
	maxIdx := reg.GetN(uint(l.Base)+regVersion, verEntries, verEntryMsk)
	return int(maxIdx) + 1
}

// Enable enables the Local APIC via the spurious-vector register.
func (l *LAPIC) Enable() {
	reg.Set(uint(l.Base)+regSVR, svrEnable)
}

// Disable disables the Local APIC.
func (l *LAPIC) Disable() {
	reg.Clear(uint(l.Base)+regSVR, svrEnable)
}

// EOI signals completion of interrupt handling.
func (l *LAPIC) EOI() {
	reg.Write(uint(l.Base)+regEOI, 0)
}

// ipiDeliveryTimeout bounds the wait on the ICR delivery-status bit for
// one send attempt.
const ipiDeliveryTimeout = 10 * time.Millisecond

var errIPIUndelivered = &kernel.Error{Module: "apic", Message: "IPI delivery failed after retry"}

// sendIPI is the shared ICR write path: program the destination APIC ID
// into ICRHigh, then the vector/delivery-mode flags into ICRLow, and wait
// for the delivery-status bit to clear. A destination that never accepts
// gets one retry after the timeout, then the kernel panics — an
// unreachable CPU is not survivable once bring-up has committed to it.
func (l *LAPIC) sendIPI(dest int, flags uint32, vector uint8) {
	for attempt := 0; ; attempt++ {
		reg.SetN(uint(l.Base)+regICRHigh, idPos, idMask, uint32(dest))
		reg.Write(uint(l.Base)+regICRLow, (flags&^0xff)|uint32(vector))

		if reg.WaitFor(ipiDeliveryTimeout, uint(l.Base)+regICRLow, icrDlvStatus, 1, 0) {
			return
		}
		if attempt == 1 {
			kernel.Panic(errIPIUndelivered)
			return
		}
	}
}

// BroadcastINIT sends an INIT IPI to every other CPU.
func (l *LAPIC) BroadcastINIT() {
	l.sendIPI(0, icrDestRest|dlvINIT|(1<<icrInitLevel), 0)
}

// BroadcastStartupIPI sends a single Startup-IPI to every other CPU,
// carrying the trampoline page's vector (its physical address >> 12).
// Conformance with older parts requires the broadcast twice; smp.Bringup
// performs the two-broadcast dance at the call site rather than inside
// the LAPIC driver itself.
func (l *LAPIC) BroadcastStartupIPI(vector uint8) {
	l.sendIPI(0, icrDestRest|dlvSIPI, vector)
}

// SendIPI delivers a fixed-vector IPI to a single APIC ID — used for
// cross-CPU reschedule notifications.
func (l *LAPIC) SendIPI(apicID int, vector uint8) {
	l.sendIPI(apicID, dlvFixed, vector)
}

// SendNMI delivers an NMI to a single APIC ID, used when the destination
// CPU is not accepting fixed-vector interrupts yet.
func (l *LAPIC) SendNMI(apicID int) {
	l.sendIPI(apicID, dlvNMI, 0)
}

// ProgramTimer configures the LVT Timer for periodic or one-shot operation
// with the given period in timer ticks, and arms it by writing the initial
// count register. TSC-deadline mode is configured via SetTSCDeadlineMode
// instead, since it takes an absolute TSC value rather than a period.
func (l *LAPIC) ProgramTimer(vector uint8, mode TimerMode, periodTicks uint32) {
	var lvt uint32
	bits.SetN(&lvt, 0, timerVectorMsk, uint32(vector))
	bits.SetN(&lvt, timerModeShift, timerModeMask, uint32(mode))

	reg.Write(uint(l.Base)+regLVTTimer, lvt)
	reg.Write(uint(l.Base)+regTimerDivide, 0b1011) // divide-by-1
	reg.Write(uint(l.Base)+regTimerICR, periodTicks)
}

// SetTSCDeadlineMode configures the LVT Timer to fire once the TSC reaches
// deadline, for platforms whose feature set prefers it over a periodic
// initial-count timer.
func (l *LAPIC) SetTSCDeadlineMode(vector uint8) {
	var lvt uint32
	bits.SetN(&lvt, 0, timerVectorMsk, uint32(vector))
	bits.SetN(&lvt, timerModeShift, timerModeMask, uint32(TimerTSCDeadline))

	reg.Write(uint(l.Base)+regLVTTimer, lvt)
}
