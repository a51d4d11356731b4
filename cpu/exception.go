package cpu

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/kernel-go/corekit/kernel"
	"github.com/kernel-go/corekit/klog"
)

// Interrupt Gate Descriptor Attributes
const (
	InterruptGate = 0b10001110
	TrapGate      = 0b10001111
)

// Exception vectors the kernel installs trampolines for. Everything else
// in 0x00-0x1f shares the same default handler through the jump table.
const (
	VectorDivideError       = 0x00
	VectorBreakpoint        = 0x03
	VectorInvalidOpcode     = 0x06
	VectorDeviceNotAvail    = 0x07
	VectorDoubleFault       = 0x08
	VectorGeneralProtection = 0x0d
	VectorPageFault         = 0x0e
	VectorSIMDError         = 0x13

	// VectorLegacySVC is the software-interrupt vector reserved for the
	// legacy system-call entry (INT 0x40).
	VectorLegacySVC = 0x40
)

// trampoline jump table constants: one CALL slot per vector.
const (
	callSize = 5
	vectors  = 256
)

// ExceptionFrame is the register snapshot an exception trampoline pushes,
// 16-byte aligned, before calling HandleException. The trampoline saves
// the full general-purpose register file plus DS/ES/FS/GS and CR2; RIP
// through SS are pushed by the processor itself. Modifications made by a
// handler that returns are propagated back to the interrupted context.
type ExceptionFrame struct {
	RAX, RBX, RCX, RDX, RSI, RDI, RBP uint64
	R8, R9, R10, R11                  uint64
	R12, R13, R14, R15                uint64

	DS, ES, FS, GS uint64

	// CR2 holds the faulting linear address when Vector is
	// VectorPageFault, garbage otherwise.
	CR2 uint64

	Vector uint64

	// Code is the error code for vectors that push one (0x08, 0x0d,
	// 0x0e), zero-filled by the trampoline otherwise.
	Code uint64

	// Pushed by the processor.
	RIP, CS, RFlags, RSP, SS uint64
}

// Print dumps the frame to the klog sink.
func (f *ExceptionFrame) Print() {
	klog.Printf("RIP = %x CS  = %x\n", f.RIP, f.CS)
	klog.Printf("RSP = %x SS  = %x\n", f.RSP, f.SS)
	klog.Printf("RFL = %x CR2 = %x\n", f.RFlags, f.CR2)
	klog.Printf("RAX = %x RBX = %x\n", f.RAX, f.RBX)
	klog.Printf("RCX = %x RDX = %x\n", f.RCX, f.RDX)
	klog.Printf("RSI = %x RDI = %x\n", f.RSI, f.RDI)
	klog.Printf("RBP = %x\n", f.RBP)
	klog.Printf("R8  = %x R9  = %x\n", f.R8, f.R9)
	klog.Printf("R10 = %x R11 = %x\n", f.R10, f.R11)
	klog.Printf("R12 = %x R13 = %x\n", f.R12, f.R13)
	klog.Printf("R14 = %x R15 = %x\n", f.R14, f.R15)
}

var errUnhandledException = &kernel.Error{Module: "cpu", Message: "unhandled exception"}

// DefaultExceptionHandler dumps the saved frame and panics. Installed as
// the initial SystemExceptionHandler.
func DefaultExceptionHandler(f *ExceptionFrame) {
	klog.Printf("exception: vector %x\n", f.Vector)
	f.Print()
	kernel.Panic(errUnhandledException)
}

// SystemExceptionHandler is invoked for every exception vector that
// reaches HandleException. Overridable so the memory manager can claim
// page faults without this package importing it.
var SystemExceptionHandler = DefaultExceptionHandler

// int40Handler services the legacy SVC vector.
var int40Handler = func(f *ExceptionFrame) {}

// SetInt40Handler installs the legacy system-call handler reached through
// INT 0x40.
func SetInt40Handler(fn func(f *ExceptionFrame)) {
	if fn == nil {
		fn = func(f *ExceptionFrame) {}
	}
	int40Handler = fn
}

// HandleException is the single Go entry point every exception trampoline
// calls with a pointer to the frame it saved. The legacy SVC vector gets
// its own dispatch; everything else goes through SystemExceptionHandler.
func HandleException(f *ExceptionFrame) {
	if f.Vector == VectorLegacySVC {
		int40Handler(f)
		return
	}

	SystemExceptionHandler(f)
}

// GateDescriptor represents an IDT Gate descriptor
// (Intel SDM Vol 3A §6.14.1, 64-Bit Mode IDT).
type GateDescriptor struct {
	Offset1         uint16
	SegmentSelector uint16
	IST             uint8
	Attributes      uint8
	Offset2         uint16
	Offset3         uint32
	Reserved        uint32
}

// Bytes converts the descriptor structure to byte array format.
func (d *GateDescriptor) Bytes() []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, d)
	return buf.Bytes()
}

// SetOffset sets the address of the handling procedure entry point.
func (d *GateDescriptor) SetOffset(addr uintptr) {
	d.Offset1 = uint16(addr & 0xffff)
	d.Offset2 = uint16(addr >> 16 & 0xffff)
	d.Offset3 = uint32(addr >> 32)
}

// writeGate copies a serialized descriptor into the IDT at addr.
func writeGate(addr uintptr, desc []byte) {
	for i, b := range desc {
		*(*byte)(unsafe.Pointer(addr + uintptr(i))) = b
	}
}

// gateWriter stores a serialized gate descriptor into the IDT. The
// default writes through the raw address; tests substitute a recorder,
// following the stackWriter convention above.
var gateWriter = writeGate

// SetGateWriterFunc overrides the IDT memory writer, for tests.
func SetGateWriterFunc(fn func(addr uintptr, desc []byte)) {
	if fn == nil {
		fn = writeGate
	}
	gateWriter = fn
}

// InstallVectors fills IDT gates [start, end] with entries into the
// trampoline jump table at tableBase (one callSize-byte slot per vector).
// idtBase is the IDT's linear address; both come from the boot hand-off.
func InstallVectors(idtBase, tableBase uintptr, start, end int) {
	desc := &GateDescriptor{
		SegmentSelector: 1 << 3,
		Attributes:      InterruptGate,
	}

	gateSize := len(desc.Bytes())

	for i := start; i <= end && i < vectors; i++ {
		desc.SetOffset(tableBase + uintptr(i*callSize))
		gateWriter(idtBase+uintptr(i*gateSize), desc.Bytes())
	}
}
