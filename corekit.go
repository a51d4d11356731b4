// Package corekit wires the kernel core together: it sizes the per-CPU
// slot table from the ACPI topology, runs the SMP bring-up protocol,
// programs the LAPIC timer, and hands back a running scheduler. The boot
// loader, memory manager, and MADT parser stay behind the boot, mm, and
// acpi interfaces; everything on the hardware side goes through the cpu,
// apic, and smp packages.
package corekit

import (
	"time"
	"unsafe"

	"github.com/kernel-go/corekit/acpi"
	"github.com/kernel-go/corekit/apic"
	"github.com/kernel-go/corekit/boot"
	"github.com/kernel-go/corekit/cpu"
	"github.com/kernel-go/corekit/kernel"
	"github.com/kernel-go/corekit/klog"
	"github.com/kernel-go/corekit/mm"
	"github.com/kernel-go/corekit/percpu"
	"github.com/kernel-go/corekit/sched"
	"github.com/kernel-go/corekit/smp"
)

// Interrupt vectors the core claims for itself.
const (
	// TimerVector carries the LAPIC timer's preemption tick.
	TimerVector = 0x20

	// RescheduleVector carries cross-CPU wake-up IPIs. The handler does
	// nothing beyond setting reschedule-pending; the interrupt return
	// path picks it up.
	RescheduleVector = 0xfd
)

// MaxCPUs caps the slot table regardless of what the topology reports.
const MaxCPUs = 64

// Config carries the platform values Init snapshots into the SMPINFO
// block and the timing parameters for bring-up and preemption.
type Config struct {
	LAPICBase uint32

	StackChunkSize    uint32
	TrampolineVector  uint8
	ActivationTimeout time.Duration

	// TimerPeriodTicks is the LAPIC timer initial count per preemption
	// tick, from apic.Calibrate.
	TimerPeriodTicks uint32

	CR3, CR4, EFER uint64

	IDTRLimit uint16
	IDTRBase  uint64

	// VectorTableBase is the exception/IRQ trampoline jump table's
	// address. Zero skips IDT gate installation (the loader's gates stay
	// in place).
	VectorTableBase uintptr

	Start64Selector uint16
	Start64Offset   uint32
	APEntry         uint64
}

// Core is the initialized kernel core.
type Core struct {
	LAPIC *apic.LAPIC
	Slots []*percpu.Slot
	Sched *sched.Scheduler
	Info  *smp.Info
}

var (
	errNoRSDP = &kernel.Error{Module: "corekit", Message: "boot info carries no ACPI RSDP"}
	errNoCPUs = &kernel.Error{Module: "corekit", Message: "no enabled processors in topology"}
)

// Init brings the core up on the BSP: it reserves one CPU slot per
// enabled Local APIC (capped at MaxCPUs), creates each CPU's idle thread,
// starts every AP, and arms the preemption timer. On return the caller
// finishes its own late initialization and enters the BSP idle thread via
// EnterIdle.
//
// Configuration and allocation failures are returned; an AP that fails to
// activate within cfg.ActivationTimeout panics inside smp.Bringup.
func Init(bi boot.Info, topo acpi.Topology, alloc mm.Allocator, cfg Config) (*Core, error) {
	if bi.ACPIRSDP() == 0 {
		return nil, errNoRSDP
	}

	n := 0
	for _, e := range topo.LocalAPICs() {
		if e.Enabled {
			n++
		}
	}
	if n == 0 {
		return nil, errNoCPUs
	}
	if n > MaxCPUs {
		n = MaxCPUs
	}

	klog.Printf("corekit: %d processors, %d memory regions\n", n, len(bi.MemoryMap()))

	lapic := &apic.LAPIC{Base: cfg.LAPICBase}

	slots := make([]*percpu.Slot, n)
	for i := range slots {
		s := &percpu.Slot{LogicalIndex: i}
		s.SetIdleThread(&sched.Thread{
			Priority: sched.Idle,
			State:    sched.Runnable,
			Ctx:      new(cpu.Context),
		})
		slots[i] = s
	}
	slots[0].PhysicalAPICID = lapic.ID()

	cpu.SetStackWriterFunc(writeStackWord)

	if cfg.VectorTableBase != 0 && cfg.IDTRBase != 0 {
		cpu.InstallVectors(uintptr(cfg.IDTRBase), cfg.VectorTableBase, 0, cpu.VectorLegacySVC)
	}

	smpCfg := smp.Config{
		MaxCPU:            n,
		StackChunkSize:    cfg.StackChunkSize,
		TrampolineVector:  cfg.TrampolineVector,
		ActivationTimeout: cfg.ActivationTimeout,
		CR3:               cfg.CR3,
		CR4:               cfg.CR4,
		EFER:              cfg.EFER,
		IDTRLimit:         cfg.IDTRLimit,
		IDTRBase:          cfg.IDTRBase,
		Start64Selector:   cfg.Start64Selector,
		Start64Offset:     cfg.Start64Offset,
		APEntry:           cfg.APEntry,
	}

	info, err := smp.Prepare(smpCfg, alloc)
	if err != nil {
		return nil, err
	}
	if err := smp.Bringup(smpCfg, info, lapic, slots); err != nil {
		return nil, err
	}

	// Bringup sorted slots by physical APIC ID and reassigned logical
	// indices; the scheduler binds to the post-sort order so a logical
	// index means the same CPU on both sides of every dispatch and IPI.
	cpuSlots := make([]sched.CPUSlot, n)
	for i, slot := range slots {
		cpuSlots[i] = slot
	}

	sch := sched.New(alloc, cpuSlots)
	sch.SetSwitchFunc(switchThreads)
	sch.SetNotifyRemote(func(idx int) {
		lapic.SendIPI(int(slots[idx].PhysicalAPICID), RescheduleVector)
	})

	lapic.Enable()
	apic.EnableIRQDispatch(lapic)
	lapic.ProgramTimer(TimerVector, apic.TimerPeriodic, cfg.TimerPeriodTicks)

	return &Core{
		LAPIC: lapic,
		Slots: slots,
		Sched: sch,
		Info:  info,
	}, nil
}

// switchThreads binds the scheduler's dispatch to the hardware context
// switch. A nil outgoing thread (a CPU's very first dispatch) saves into
// a per-call scratch context that is simply discarded.
func switchThreads(from, to *sched.Thread) {
	if from == to || to == nil || to.Ctx == nil {
		return
	}

	fromCtx := new(cpu.Context)
	if from != nil && from.Ctx != nil {
		fromCtx = from.Ctx
	}

	cpu.Switch(fromCtx, to.Ctx)
}

// writeStackWord backs cpu.NewThreadStack's bootstrap-frame writes: thread
// stacks come from mm.Allocator, not the Go heap, so the write goes
// through the raw address.
func writeStackWord(addr uintptr, value uint64) {
	*(*uint64)(unsafe.Pointer(addr)) = value
}

// EnterIdle dispatches the calling CPU into its idle thread; APs call
// this (via the startup path) right after AwaitActivation returns, the
// BSP after finishing late initialization.
func (c *Core) EnterIdle(logicalCPU int) {
	slot := c.Slots[logicalCPU]
	idle := slot.IdleThread()
	idle.State = sched.Running
	slot.SetCurrent(idle)
	c.Sched.Dispatch(logicalCPU)
}

// TimerInterrupt is the TimerVector service routine, called once per
// LAPIC timer tick on each CPU.
func (c *Core) TimerInterrupt(logicalCPU int) {
	c.Sched.EnterInterrupt(logicalCPU)
	c.Sched.Tick(logicalCPU)
	c.Sched.LeaveInterrupt(logicalCPU)
	c.LAPIC.EOI()
}

// RescheduleInterrupt is the RescheduleVector service routine. It only
// marks reschedule-pending; the interrupt return path dispatches at the
// next safe point.
func (c *Core) RescheduleInterrupt(logicalCPU int) {
	c.Sched.EnterInterrupt(logicalCPU)
	c.Slots[logicalCPU].SetReschedule(true)
	c.Sched.LeaveInterrupt(logicalCPU)
	c.LAPIC.EOI()
}
