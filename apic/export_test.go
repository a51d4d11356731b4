package apic

import "unsafe"

// mmioAddr returns buf's backing address as a register base, standing in
// for a real LAPIC/IOAPIC MMIO window. Callers must keep buf alive (in
// scope) for as long as the returned address is used, exactly as
// internal/reg's tests keep their backing word alive by holding it in a
// local variable.
func mmioAddr(buf []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(&buf[0])))
}
