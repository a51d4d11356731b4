package cpu

// wordSize is one machine word on amd64: the unit NewThreadStack reserves
// space in when laying out a fresh stack frame.
const wordSize = 8

// NewThreadStack lays out a freshly allocated stack region so that the
// first Switch into the returned Context resumes inside BootstrapShim.
// top must be the highest address of the stack region (stacks grow
// down); entry and arg are
// written to the frame BootstrapShim's assembly pops once it has finished
// FPU/SSE initialization and released the scheduler lock.
//
// The actual memory writes that place (BootstrapShim address, entry, arg)
// on the stack happen in stackWriter, a package variable, since the stack
// region comes from mm.Allocator rather than the Go heap and writing
// through an arbitrary physical address needs the same kind of
// unsafe-pointer cast internal/reg centralizes for MMIO — corekit.Init
// supplies it once during initialization.
func NewThreadStack(top uintptr, entry uintptr, arg uintptr) *Context {
	sp := top
	sp -= wordSize
	stackWriter(sp, uint64(arg))
	sp -= wordSize
	stackWriter(sp, uint64(entry))
	sp -= wordSize
	stackWriter(sp, uint64(bootstrapShimAddr()))

	ctx := &Context{SP: sp}
	initFPUArea(&ctx.FPU)

	return ctx
}

// stackWriter writes a single machine word to a stack address. Defaults to
// a no-op so this package is importable without wiring a real memory
// backend; corekit.Init installs the real implementation through
// SetStackWriterFunc.
var stackWriter = func(addr uintptr, value uint64) {}

// SetStackWriterFunc installs the function NewThreadStack uses to write the
// bootstrap frame into freshly allocated stack memory.
func SetStackWriterFunc(fn func(addr uintptr, value uint64)) {
	if fn == nil {
		fn = func(uintptr, uint64) {}
	}
	stackWriter = fn
}

// bootstrapShimAddr returns the entry point of BootstrapShim, resolved in
// thread_bootstrap_amd64.s as a link-time constant.
func bootstrapShimAddr() uintptr

// defaultMXCSR is the MXCSR image BootstrapShim loads before a fresh
// thread's first instruction: all SIMD exceptions masked, round to
// nearest.
var defaultMXCSR uint32 = 0x1f80

// newThreadEntered is called from thread_bootstrap_amd64.s once FPU/SSE
// state is initialized, before interrupts are enabled.
func newThreadEntered() {
	setupNewThread()
}

// initFPUArea zeroes a fresh FPU/SSE save area. The zeroed image is not
// the processor's default control-word configuration; BootstrapShim's
// FNINIT and LDMXCSR (defaultMXCSR) load that before the thread's entry
// runs — so this is pure bookkeeping on the Go side, not a hardware
// operation.
func initFPUArea(area *[FXSaveAreaSize]byte) {
	for i := range area {
		area[i] = 0
	}
}

// BootstrapShim is the assembly entry point every freshly spawned thread's
// Context.SP initially resumes at. It:
//  1. initializes FPU state to a known configuration (FNINIT);
//  2. clears the SSE register file;
//  3. calls setupNewThread (below), which releases any scheduler locks
//     held across the switch into this thread;
//  4. enables interrupts;
//  5. pops (entry, arg) pushed by NewThreadStack and calls entry(arg);
//  6. on return from entry, halts — the reaper later observes the thread's
//     Dead state and frees its stack.
//
// Implemented in thread_bootstrap_amd64.s.
func BootstrapShim()

// setupNewThread is the Go-callable hook BootstrapShim invokes after
// initializing FPU/SSE state and before enabling interrupts. It is a
// package variable (not a hardcoded call) so the scheduler can install its
// own lock-release logic without this package importing sched, following
// the same narrow-extension-point style as SystemExceptionHandler.
var setupNewThread = func() {}

// SetSetupNewThreadFunc installs the callback BootstrapShim runs before
// enabling interrupts on a freshly dispatched thread. Neither sched nor
// corekit calls it, so the no-op default stays installed.
func SetSetupNewThreadFunc(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	setupNewThread = fn
}
