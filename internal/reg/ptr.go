package reg

import "unsafe"

// ptr overlays a register address with a pointer. Centralized so the one
// location in this package that needs unsafe is easy to audit.
func ptr(addr uint) unsafe.Pointer {
	return unsafe.Pointer(uintptr(addr))
}
