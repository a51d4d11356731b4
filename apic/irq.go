package apic

import "github.com/kernel-go/corekit/kernel"

// MaxGSI bounds the Global System Interrupt lines the kernel installs IRQ
// trampolines for.
const MaxGSI = 24

// IRQHandler services one GSI. It runs in interrupt context: it must not
// block and must not enter any scheduler wait primitive.
type IRQHandler func(irq int)

var (
	irqHandlers [MaxGSI]IRQHandler
	irqLAPIC    *LAPIC

	// spuriousIRQ counts deliveries with no registered handler, for
	// diagnostics.
	spuriousIRQ uint64
)

var errBadIRQ = &kernel.Error{Module: "apic", Message: "GSI out of range"}

// EnableIRQDispatch installs the LAPIC HandleIRQ acknowledges interrupts
// through. Called once on the BSP before interrupts are unmasked.
func EnableIRQDispatch(l *LAPIC) {
	irqLAPIC = l
}

// RegisterIRQ installs h as the handler for irq. Passing nil removes the
// current handler.
func RegisterIRQ(irq int, h IRQHandler) error {
	if irq < 0 || irq >= MaxGSI {
		return errBadIRQ
	}

	irqHandlers[irq] = h
	return nil
}

// HandleIRQ is the Go entry point every IRQ trampoline calls with its GSI
// number after saving the caller-saved registers. It dispatches to the
// registered handler, then delivers end-of-interrupt; the outer trampoline
// checks reschedule-pending on its return path.
func HandleIRQ(irq int) {
	if irq >= 0 && irq < MaxGSI && irqHandlers[irq] != nil {
		irqHandlers[irq](irq)
	} else {
		spuriousIRQ++
	}

	if irqLAPIC != nil {
		irqLAPIC.EOI()
	}
}
