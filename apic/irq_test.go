package apic

import "testing"

func resetIRQDispatch() {
	irqHandlers = [MaxGSI]IRQHandler{}
	irqLAPIC = nil
	spuriousIRQ = 0
}

func TestRegisterIRQRejectsOutOfRange(t *testing.T) {
	defer resetIRQDispatch()

	if err := RegisterIRQ(-1, func(int) {}); err == nil {
		t.Fatal("expected negative GSI rejected")
	}
	if err := RegisterIRQ(MaxGSI, func(int) {}); err == nil {
		t.Fatal("expected GSI past the trampoline table rejected")
	}
}

func TestHandleIRQDispatchesAndAcknowledges(t *testing.T) {
	defer resetIRQDispatch()

	mem := make([]byte, 0x400)
	l := &LAPIC{Base: mmioAddr(mem)}
	EnableIRQDispatch(l)

	var got int
	if err := RegisterIRQ(4, func(irq int) { got = irq }); err != nil {
		t.Fatalf("register: %v", err)
	}

	HandleIRQ(4)

	if got != 4 {
		t.Fatalf("expected handler invoked with GSI 4; got %d", got)
	}
}

func TestHandleIRQCountsSpuriousDeliveries(t *testing.T) {
	defer resetIRQDispatch()

	HandleIRQ(7)
	HandleIRQ(99)

	if spuriousIRQ != 2 {
		t.Fatalf("expected 2 spurious deliveries counted; got %d", spuriousIRQ)
	}
}
