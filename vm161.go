// Package vm161 is the public surface of a MIPS-class teaching
// operating system's virtual memory subsystem (spec.md §1): a
// physical page allocator, a per-process address space manager, and a
// software-refilled TLB fault handler, tied together the way a
// kernel's syscall/loader layer would use them (spec §6 "Surface to
// loaders/syscalls").
//
// System assembles the internal/machine, internal/pfa, and
// internal/vmspace packages into one simulated machine runnable as an
// ordinary Go process, so the whole subsystem is unit-testable without
// real hardware.
package vm161

import (
	"context"
	"io"

	"github.com/vm161/vm161/internal/diag"
	"github.com/vm161/vm161/internal/ipl"
	"github.com/vm161/vm161/internal/machine"
	"github.com/vm161/vm161/internal/pfa"
	"github.com/vm161/vm161/internal/vmerr"
	"github.com/vm161/vm161/internal/vmspace"
)

// Re-exported types so callers need only import this package for the
// common case.
type (
	AddressSpace = vmspace.AddressSpace
	FaultType    = vmspace.FaultType
	PA           = machine.PA
	VA           = machine.VA
)

// Fault type constants (spec §4.4).
const (
	FaultReadOnly = vmspace.FaultReadOnly
	FaultRead     = vmspace.FaultRead
	FaultWrite    = vmspace.FaultWrite
)

// StackPages is the fixed user stack length in pages (spec §6).
const StackPages = vmspace.StackPages

// System is one simulated machine: a RAM extent, a direct map, a TLB,
// a randomness device, the physical frame allocator over them, and the
// "current thread" the fault handler consults.
type System struct {
	Disc    *ipl.Disc
	RAM     *machine.SimRAM
	DMap    *machine.SimDirectMap
	TLB     *machine.SimTLB
	Random  *machine.SimRandomDevice
	PFA     *pfa.Allocator
	Threads *vmspace.CurrentThread
}

// NewSimSystem constructs a System with npages of simulated physical
// RAM and a TLB of tlbSlots fully-associative slots. It does not yet
// run Bootstrap; callers must call Bootstrap before the first
// GetPages/AllocKpages, exactly as spec §4.1 describes the pre-init
// state.
func NewSimSystem(npages, tlbSlots int) (*System, error) {
	ram, err := machine.NewSimRAM(npages)
	if err != nil {
		return nil, err
	}
	dmap := machine.NewSimDirectMap(ram)
	tlb := machine.NewSimTLB(tlbSlots)
	rng := machine.NewSimRandomDevice(nil)
	disc := &ipl.Disc{}
	alloc := pfa.New(disc, ram)

	return &System{
		Disc:    disc,
		RAM:     ram,
		DMap:    dmap,
		TLB:     tlb,
		Random:  rng,
		PFA:     alloc,
		Threads: &vmspace.CurrentThread{},
	}, nil
}

// Close releases the system's simulated RAM.
func (s *System) Close() error {
	return s.RAM.Close()
}

// Bootstrap queries the machine for its free extent and opens the
// randomness device (spec §4.1 "bootstrap()"). The randomness device
// is already open by construction in this simulation (SimRandomDevice
// has no separate "open" step); Bootstrap here performs the PFA half
// of the teacher's combined boot step.
func (s *System) Bootstrap() {
	s.PFA.Bootstrap()
}

// NewAddressSpace creates an address space bound to this system's PFA
// and TLB (spec "as_create").
func (s *System) NewAddressSpace() *AddressSpace {
	return vmspace.Create(s.Disc, s.PFA, s.TLB)
}

// DefineStack is a convenience wrapper around AddressSpace.DefineStack
// that supplies this system's randomness device.
func (s *System) DefineStack(ctx context.Context, as *AddressSpace) (VA, error) {
	return as.DefineStack(ctx, s.Random)
}

// Copy is a convenience wrapper around AddressSpace.Copy that supplies
// this system's direct map.
func (s *System) Copy(ctx context.Context, as *AddressSpace) (*AddressSpace, error) {
	return as.Copy(ctx, s.DMap)
}

// Fault resolves a faulting address against the system's current
// thread and installs a TLB entry (spec "vm_fault"). On translation
// failure it dumps the allocator state to diagsOut before returning
// bad-address (spec §4.4 step 6, §4.6); diagsOut may be nil to skip
// the dump (e.g. for callers only interested in the return value, such
// as property tests).
func (s *System) Fault(diagsOut io.Writer, faulttype FaultType, faultaddress VA) error {
	var dump vmspace.DumpFunc
	if diagsOut != nil {
		dump = func(as *AddressSpace) {
			diag.DumpBuddyList(diagsOut, s.PFA)
		}
	}
	return vmspace.Fault(s.Disc, s.TLB, s.Threads, dump, faulttype, faultaddress)
}

// AllocKpages allocates n contiguous pages through the PFA and returns
// a zeroed kernel VA backing them (spec §6 "alloc_kpages"; not
// detailed by §4, supplemented per SPEC_FULL.md).
func (s *System) AllocKpages(n int) (uintptr, error) {
	pa := s.PFA.GetPages(n)
	if pa == 0 {
		return 0, vmerr.New("alloc_kpages", vmerr.OutOfMemory)
	}
	buf := s.DMap.Bytes(pa, n*machine.PageSize)
	for i := range buf {
		buf[i] = 0
	}
	return s.DMap.PaddrToKvaddr(pa), nil
}

// FreeKpages returns the page-aligned extent backing kva to the PFA
// (spec §6 "free_kpages").
func (s *System) FreeKpages(kva uintptr) {
	pa := machine.PageFloor(s.DMap.KvaddrToPaddr(kva))
	s.PFA.FreePage(pa)
}
