package reg

// In8/Out8/In16/Out16/In32/Out32 are port I/O primitives, used by the
// ACPI PM timer calibration path (apic.Calibrate) among other port-mapped
// devices. Port I/O has no Go-expressible
// semantics (the IN/OUT instructions are not reachable from portable
// Go), so these are declared here and implemented in port_amd64.s.
func In8(port uint16) (val uint8)
func Out8(port uint16, val uint8)
func In16(port uint16) (val uint16)
func Out16(port uint16, val uint16)
func In32(port uint16) (val uint32)
func Out32(port uint16, val uint32)
