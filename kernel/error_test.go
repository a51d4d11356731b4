package kernel

import "testing"

func TestKernelError(t *testing.T) {
	err := &Error{
		Module:  "smp",
		Message: "AP activation timed out",
	}

	if err.Error() != err.Message {
		t.Fatalf("expected err.Error() to return %q; got %q", err.Message, err.Error())
	}
}

func TestPanicReportsAndHalts(t *testing.T) {
	defer func(orig func()) { haltFn = orig }(haltFn)

	halted := false
	haltFn = func() { halted = true }

	Panic(&Error{Module: "smp", Message: "AP activation timed out"})

	if !halted {
		t.Fatal("expected Panic to invoke haltFn")
	}
}

func TestPanicWithNilError(t *testing.T) {
	defer func(orig func()) { haltFn = orig }(haltFn)

	halted := false
	haltFn = func() { halted = true }

	Panic(nil)

	if !halted {
		t.Fatal("expected Panic(nil) to still halt")
	}
}
