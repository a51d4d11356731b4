// Package cpu provides the context-save/restore contract, fresh-thread
// stack construction, CPUID-based feature detection, and TSC access for a
// single logical x86-64 processor, for both the BSP and every AP.
package cpu

// FXSaveAreaSize is the size in bytes of the FXSAVE/FXRSTOR legacy
// save-area format used for a thread's FPU/SSE state (Intel SDM Vol 1
// §10.5.1). 16-byte aligned, as FXSAVE requires.
const FXSaveAreaSize = 512

// Context holds everything a context switch must save and restore for one
// thread: the stack pointer, callee-saved general-purpose
// registers, segment selectors, FPU/SSE state, and the per-thread ring-3
// descriptors needed to resume a user-mode thread.
//
// Context is plain data; the save/restore operation itself is implemented
// in assembly (Switch, below) since it must run with interrupts masked and
// touch registers no Go function signature can name.
type Context struct {
	// FPU/SSE legacy save area (FXSAVE format). First field so the area
	// sits at the start of the allocation: FXSAVE64 requires a 16-byte
	// aligned operand, and the slab the scheduler allocates contexts from
	// hands out 16-byte aligned blocks. Field offsets below are mirrored
	// by context_switch_amd64.s and must not change without it.
	FPU [FXSaveAreaSize]byte

	// SP is the saved stack pointer.
	SP uintptr

	// Callee-saved general-purpose registers (System V AMD64 ABI: RBX,
	// RBP, R12-R15). RSP is tracked separately as SP above.
	RBX, RBP, R12, R13, R14, R15 uint64

	// Segment selectors active while this thread was last running. FS
	// and GS are saved for completeness but never reloaded by Switch:
	// their bases carry per-CPU state and are managed through
	// IA32_FS_BASE/IA32_GS_BASE instead.
	CS, DS, ES, FS, GS, SS uint16

	// UserCS/UserDS are the ring-3 code/data selectors this thread
	// resumes with, if it can enter user mode. Zero for kernel-only
	// threads.
	UserCS, UserDS uint16

	// TSSRSP0 is the per-thread TSS.RSP0 snapshot: the stack pointer the
	// CPU loads on a ring3->ring0 transition while this thread is
	// current.
	TSSRSP0 uint64

	// UserCSDesc/UserDSDesc are the two GDT descriptor images Switch
	// installs into the per-CPU user CS/DS GDT slots, so the incoming
	// thread observes its own user-mode descriptors. Zero for
	// kernel-only threads.
	UserCSDesc, UserDSDesc uint64
}

// Switch atomically saves the running thread's register file into from and
// restores to's, then resumes execution at the return address to's stack
// was constructed with. It is non-preemptible: the caller
// (the scheduler dispatcher) must mask interrupts before calling Switch.
// No lock may be held across the switch; for freshly spawned threads the
// incoming thread's own bootstrap shim, not Switch itself, performs the
// scheduler-lock release step.
//
// Caller-saved registers are not part of Context: Switch's assembly
// implementation zeroes them on the way out of the outgoing thread, so no
// register content can leak from one thread to the next.
//
// Implemented in context_switch_amd64.s; SetTSSAddress and
// SetUserGDTAddress must have been called before the first switch of a
// thread carrying ring-3 state.
func Switch(from, to *Context)

// tssRSP0Addr is the linear address of the running CPU's TSS.RSP0 field,
// read and written by Switch's assembly. Zero (the default) skips the
// TSS snapshot/swap step entirely, for kernel-only configurations and
// tests.
var tssRSP0Addr uintptr

// userGDTAddr is the linear address of the two consecutive GDT entries
// holding the user CS and DS descriptors Switch swaps per thread. Zero
// skips the swap.
var userGDTAddr uintptr

// SetTSSAddress points Switch at the running CPU's TSS.RSP0 field.
// Called once per CPU during bring-up, before that CPU's first dispatch.
func SetTSSAddress(addr uintptr) {
	tssRSP0Addr = addr
}

// SetUserGDTAddress points Switch at the per-CPU GDT slots holding the
// user-mode CS/DS descriptors.
func SetUserGDTAddress(addr uintptr) {
	userGDTAddr = addr
}
