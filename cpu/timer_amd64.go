package cpu

// defined in cpu_amd64.s
func readTSC() uint64

// Counter returns this processor's raw Time-Stamp Counter value. TSC
// deltas are only meaningful relative to a per-CPU base recorded after
// the SMP rendezvous — this method never subtracts a base itself, that is
// percpu.Slot's responsibility.
func (c *CPU) Counter() uint64 {
	return readTSC()
}

// SetFreq records the core frequency this processor was calibrated at
// (apic.Calibrate performs the calibration; CPU just stores the result so
// Counter-to-nanosecond conversions elsewhere in the scheduler can use it).
func (c *CPU) SetFreq(hz uint32) {
	c.freq = hz
}

// Freq returns the calibrated core frequency in Hz, or 0 if SetFreq has not
// been called yet.
func (c *CPU) Freq() uint32 {
	return c.freq
}
