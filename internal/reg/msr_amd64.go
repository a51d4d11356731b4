package reg

// ReadMSR reads a model-specific register. The RDMSR instruction has no
// portable Go expression; implemented in msr_amd64.s.
func ReadMSR(addr uint32) (val uint64)
