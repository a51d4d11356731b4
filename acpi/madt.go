// Package acpi declares the topology contract SMP bring-up reads the
// platform's CPU population from. Parsing the actual ACPI MADT (Multiple
// APIC Description Table) belongs to the table-walking layer; acpi only
// fixes the shape a real parser hands to corekit.Init.
package acpi

// LocalAPICEntry mirrors one MADT Processor Local APIC entry (ACPI spec
// §5.2.12.2): the physical APIC ID bring-up addresses INIT/SIPI to, and
// whether the firmware reports the processor as enabled.
type LocalAPICEntry struct {
	ID      uint8
	Enabled bool
}

// Topology reports the CPU population corekit.Init sizes SMPINFO.MaxCPU
// and the per-CPU slot table from.
type Topology interface {
	// LocalAPICs returns every Processor Local APIC entry the platform's
	// MADT describes, including disabled ones (corekit.Init filters those
	// out itself rather than trusting the caller to have done so).
	LocalAPICs() []LocalAPICEntry
}
