package kernel

import "github.com/kernel-go/corekit/klog"

// haltFn is invoked after a fatal error has been reported. It is a package
// variable so tests can substitute a no-op and observe that Panic was
// reached without actually halting the test process.
var haltFn = func() { select {} }

// SetHaltFunc overrides the halt action Panic invokes after reporting a
// fatal error, for tests in other packages that need to observe a Panic
// call without blocking forever. Passing nil restores the default halt.
func SetHaltFunc(fn func()) {
	if fn == nil {
		fn = func() { select {} }
	}
	haltFn = fn
}

var errUnknownCause = &Error{Module: "kernel", Message: "unknown cause"}

// Panic reports err (if non-nil) to the attached klog sink and halts the
// calling CPU. Panic never returns.
func Panic(err *Error) {
	if err == nil {
		err = errUnknownCause
	}

	klog.Printf("\n-----------------------------------\n")
	klog.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	klog.Printf("*** kernel panic: system halted ***\n")
	klog.Printf("-----------------------------------\n")

	haltFn()
}
