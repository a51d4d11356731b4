// Package apic drives the Local APIC and I/O APIC: IPI delivery for SMP
// bring-up and cross-CPU reschedule, timer programming for scheduler
// preemption, and IRQ routing.
package apic
