// Package smp implements the SMP bring-up protocol: the SMPINFO control
// block APs read in real mode, the BSP-side Prepare/Bringup orchestration
// that broadcasts INIT/Startup-IPI and rendezvouses with every
// Application Processor, and the Go tail of the AP entry path
// (APStartup/AwaitActivation).
package smp

import (
	"encoding/binary"
)

// The three descriptors SMPINFO's minimal GDT carries: null, 64-bit
// code, 64-bit data. The AP trampoline transitions straight through to
// long mode, so the code/data descriptors carry long-mode attributes
// rather than 32-bit protected-mode ones.
const (
	gdtNull = 0x0000000000000000
	gdtCode64 = 0x00209a0000000000 // L=1, D=0, present, execute/read
	gdtData64 = 0x0000920000000000 // present, read/write
)

// Info is the SMPINFO control block: a fixed low-memory
// structure readable by 16-bit real-mode AP code. Every field here is
// filled in by Prepare before any SIPI is broadcast, and is read-only to
// APs except NextCore.
type Info struct {
	// NextCore is the atomic next-core counter APs fetch-and-add to
	// obtain a tentative logical ID. Initialized to
	// 1 by Prepare — the BSP itself occupies logical slot 0. Held as a
	// uint32 for ClaimLogicalID's atomic fetch-and-add; the marshalled
	// block carries its low 16 bits.
	NextCore uint32

	// MaxCPU bounds the logical IDs APs may claim; an AP whose
	// fetch-and-add result exceeds MaxCPU halts.
	MaxCPU uint16

	// StackChunkSize is the size in bytes of each AP's pre-allocated
	// stack; StackBase is the low address of the first chunk. An AP's
	// stack top is StackBase + logicalID*StackChunkSize.
	StackChunkSize uint32
	StackBase      uint64

	// SavedCR3, SavedCR4, SavedEFER are the BSP's paging/control-register
	// state, restored verbatim by each AP. EFER's
	// LMA bit is cleared here — it is set automatically again once paging
	// re-enables long mode in step 3d.
	SavedCR3  uint64
	SavedCR4  uint64
	SavedEFER uint64

	// SavedIDTR is the BSP's IDT descriptor (limit in the low 16 bits,
	// base in the high 64), loaded by each AP in step 4.
	SavedIDTRLimit uint16
	SavedIDTRBase  uint64

	// Start64Far is the 48-bit far pointer (16-bit selector : 32-bit
	// offset) into the BSP's 64-bit code segment that the AP trampoline
	// far-jumps through to reach the long-mode shim.
	Start64Selector uint16
	Start64Offset   uint32

	// APEntry is the address of the OS-supplied AP_STARTUP routine the
	// 64-bit shim jmps to.
	APEntry uint64

	// GDT holds the three minimal descriptors (null/code64/data) and
	// GDTLimit/GDTBase describe the GDTR an AP loads in step 3b.
	GDT      [3]uint64
	GDTLimit uint16
	GDTBase  uint64
}

// newInfo returns an Info with its fixed GDT descriptors populated; every
// other field is filled in by Prepare.
func newInfo() *Info {
	info := &Info{
		NextCore: 1,
		GDT:      [3]uint64{gdtNull, gdtCode64, gdtData64},
		GDTLimit: uint16(3*8 - 1),
	}
	return info
}

// MarshalBinary serializes Info into the little-endian byte layout the
// real-mode trampoline reads. Field order matches the struct declaration
// order, which is the order the trampoline's assembly indexes by fixed
// offset.
func (info *Info) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 128)
	w := newByteWriter(&buf)

	w.uint16(uint16(info.NextCore))
	w.uint16(info.MaxCPU)
	w.uint32(info.StackChunkSize)
	w.uint64(info.StackBase)
	w.uint64(info.SavedCR3)
	w.uint64(info.SavedCR4)
	w.uint64(info.SavedEFER)
	w.uint16(info.SavedIDTRLimit)
	w.uint64(info.SavedIDTRBase)
	w.uint16(info.Start64Selector)
	w.uint32(info.Start64Offset)
	w.uint64(info.APEntry)
	for _, d := range info.GDT {
		w.uint64(d)
	}
	w.uint16(info.GDTLimit)
	w.uint64(info.GDTBase)

	return buf, nil
}

// byteWriter is a tiny little-endian field writer. Writing fields
// explicitly, instead of reflection-driven encoding/binary.Write over the
// whole struct, keeps the layout a stable, auditable contract rather than
// one derived implicitly from Go field order and alignment.
type byteWriter struct {
	buf *[]byte
}

func newByteWriter(buf *[]byte) byteWriter {
	return byteWriter{buf: buf}
}

func (w byteWriter) uint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	*w.buf = append(*w.buf, b[:]...)
}

func (w byteWriter) uint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	*w.buf = append(*w.buf, b[:]...)
}

func (w byteWriter) uint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	*w.buf = append(*w.buf, b[:]...)
}
