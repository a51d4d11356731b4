package reg

import "unsafe"

// ptrToAddr exposes the address of an ordinary Go variable as a uint so
// tests can exercise the bit-manipulation helpers without real MMIO. Only
// valid because Go's current allocator does not move heap objects backing
// values whose address has escaped via unsafe.Pointer.
func ptrToAddr(p interface{}) uintptr {
	switch v := p.(type) {
	case *uint16:
		return uintptr(unsafe.Pointer(v))
	case *uint32:
		return uintptr(unsafe.Pointer(v))
	case *uint64:
		return uintptr(unsafe.Pointer(v))
	default:
		panic("unsupported type")
	}
}
