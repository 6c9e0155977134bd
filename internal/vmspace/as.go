// Package vmspace implements the address-space lifecycle (spec §4.3),
// stack-base randomization (§4.5), and the software-refilled TLB fault
// handler (§4.4). The teacher keeps these together in one vm package
// (Vm_t's lifecycle methods alongside Pgfault/Sys_pgfault in
// vm/as.go); this package does the same, simplified to this spec's two
// fixed regions plus one fixed-size stack — no COW, no file-backed
// regions, no per-page permissions, all excluded by spec.md's
// Non-goals.
package vmspace

import (
	"context"
	"encoding/binary"

	"github.com/vm161/vm161/internal/ipl"
	"github.com/vm161/vm161/internal/machine"
	"github.com/vm161/vm161/internal/pfa"
	"github.com/vm161/vm161/internal/vmerr"
	"github.com/vm161/vm161/internal/vmlog"
)

// StackPages is the fixed length of a user stack, in pages (spec §6:
// STACKPAGES = 12, 48 KiB).
const StackPages = 12

// Stack-base randomization window (spec §4.5/§6): the fixed constant is
// the top of the statically reserved user code/data window; the
// modulus bounds the stack top below the kernel window at 0x80000000.
const (
	stackBaseFloor  = 0x005c0000
	stackBaseModulo = 0x7fa40000
)

// Region is one of an address space's two fixed virtual regions (spec
// §3): a virtual base, a page count, and the physical extent backing
// it once loaded. PBase is 0 before PrepareLoad.
type Region struct {
	VBase  machine.VA
	NPages int
	PBase  machine.PA
}

func (r Region) contains(va machine.VA) bool {
	if r.NPages == 0 {
		return false
	}
	lo := r.VBase
	hi := r.VBase + machine.VA(r.NPages*machine.PageSize)
	return va >= lo && va < hi
}

// AddressSpace is a process's virtual memory: two code/data regions
// plus a fixed-size stack, each backed by a contiguous physical extent
// once loaded (spec §3/§4.3).
type AddressSpace struct {
	disc *ipl.Disc
	pfa  *pfa.Allocator
	tlb  machine.TLB

	Region1 Region
	Region2 Region

	StackVBase machine.VA
	StackPBase machine.PA
}

// Create allocates and zero-initializes an address space (spec
// "as_create"). Kernel heap allocation (kmalloc) for the AS record
// itself is explicitly out of scope (spec §1); Go's allocator backs it
// instead, so unlike the teacher this constructor cannot itself fail.
func Create(disc *ipl.Disc, alloc *pfa.Allocator, tlb machine.TLB) *AddressSpace {
	return &AddressSpace{disc: disc, pfa: alloc, tlb: tlb}
}

// DefineRegion page-aligns vaddr downward, rounds sz up so the region
// covers all bytes of [vaddr, vaddr+sz), and assigns it to region 1 if
// unset, else region 2, else fails with TooManyRegions (spec
// "as_define_region"). Permission flags are accepted but have no
// effect — spec.md's Non-goals exclude per-page permissions; every
// page is installed read/write/execute (spec §4.4/§6).
func (as *AddressSpace) DefineRegion(vaddr machine.VA, sz int, r, w, x bool) error {
	_ = r
	_ = w
	_ = x

	base := machine.PageFloorVA(vaddr)
	end := machine.VA(machine.PageRoundUp(int(vaddr-base) + sz))
	npages := int(end) / machine.PageSize

	reg := Region{VBase: base, NPages: npages}
	switch {
	case as.Region1.NPages == 0:
		as.Region1 = reg
	case as.Region2.NPages == 0:
		as.Region2 = reg
	default:
		vmlog.Printf("as_define_region: rejecting vaddr=0x%x sz=%d, two regions already defined", uint64(vaddr), sz)
		return vmerr.New("as_define_region", vmerr.TooManyRegions)
	}
	return nil
}

// PrepareLoad allocates three PFA extents for region 1, region 2, and
// the stack (spec "as_prepare_load"). Its precondition is that none of
// the three physical bases has been set yet. On any failure it rolls
// back whatever it already allocated so the caller never has to reason
// about a partially loaded address space.
func (as *AddressSpace) PrepareLoad() error {
	if as.Region1.PBase != 0 || as.Region2.PBase != 0 || as.StackPBase != 0 {
		panic("vmspace: PrepareLoad called on an already-loaded address space")
	}

	p1 := as.pfa.GetPages(as.Region1.NPages)
	if p1 == 0 {
		return vmerr.New("as_prepare_load", vmerr.OutOfMemory)
	}
	p2 := as.pfa.GetPages(as.Region2.NPages)
	if p2 == 0 {
		as.pfa.FreePage(p1)
		return vmerr.New("as_prepare_load", vmerr.OutOfMemory)
	}
	ps := as.pfa.GetPages(StackPages)
	if ps == 0 {
		as.pfa.FreePage(p1)
		as.pfa.FreePage(p2)
		return vmerr.New("as_prepare_load", vmerr.OutOfMemory)
	}

	as.Region1.PBase = p1
	as.Region2.PBase = p2
	as.StackPBase = ps
	return nil
}

// CompleteLoad is a no-op hook reserved for future MMU fence semantics
// (spec "as_complete_load").
func (as *AddressSpace) CompleteLoad() {}

// DefineStack reads four bytes from rng, reduces them modulo the
// randomization window, and records the resulting stack base (spec
// "as_define_stack" / §4.5). It requires StackPBase to already be set;
// violating that precondition is a programming error, not a runtime
// condition, so it panics rather than returning an error (spec §7
// "impossible-state").
func (as *AddressSpace) DefineStack(ctx context.Context, rng machine.RandomDevice) (machine.VA, error) {
	if as.StackPBase == 0 {
		panic("vmspace: DefineStack called before PrepareLoad")
	}

	var buf [4]byte
	if _, err := rng.Read(ctx, buf[:]); err != nil {
		return 0, err
	}
	r := binary.LittleEndian.Uint32(buf[:])

	base := stackBaseFloor + (r % stackBaseModulo)
	base &^= machine.PageOffset

	as.StackVBase = machine.VA(base)
	return as.StackVBase, nil
}

// Activate invalidates every TLB entry (spec "as_activate", T5). The
// argument the teacher ignores (the AS being activated) is likewise
// not needed here: the TLB is process-wide simulated hardware, not
// per-AS state.
func (as *AddressSpace) Activate() {
	restore := as.disc.Raise()
	defer restore()

	for i := 0; i < as.tlb.NumSlots(); i++ {
		as.tlb.Write(i, machine.Entry{EntryHi: machine.InvalidHi(i), EntryLo: machine.InvalidLo()})
	}
}

// Destroy returns all three physical extents to the PFA (spec
// "as_destroy"). FreePage is a documented no-op on an unset (zero)
// base, so this is safe to call on an address space that never
// completed PrepareLoad (spec §9).
func (as *AddressSpace) Destroy() {
	as.pfa.FreePage(as.Region1.PBase)
	as.pfa.FreePage(as.Region2.PBase)
	as.pfa.FreePage(as.StackPBase)
}

// Copy creates a new address space with equivalent virtual metadata,
// prepares its own physical extents, and bytewise-copies each of the
// three extents through the kernel direct map (spec "as_copy", R2).
func (as *AddressSpace) Copy(ctx context.Context, dmap machine.DirectMap) (*AddressSpace, error) {
	n := &AddressSpace{disc: as.disc, pfa: as.pfa, tlb: as.tlb}
	n.Region1 = Region{VBase: as.Region1.VBase, NPages: as.Region1.NPages}
	n.Region2 = Region{VBase: as.Region2.VBase, NPages: as.Region2.NPages}
	n.StackVBase = as.StackVBase

	if err := n.PrepareLoad(); err != nil {
		return nil, err
	}

	copyExtent := func(src, dst machine.PA, pages int) {
		n := pages * machine.PageSize
		copy(dmap.Bytes(dst, n), dmap.Bytes(src, n))
	}
	copyExtent(as.Region1.PBase, n.Region1.PBase, as.Region1.NPages)
	copyExtent(as.Region2.PBase, n.Region2.PBase, as.Region2.NPages)
	copyExtent(as.StackPBase, n.StackPBase, StackPages)

	return n, nil
}

// assertLoaded checks the structural invariants spec §4.4 step 5
// requires of the current address space before translating a fault:
// every base set and page-aligned. A violation here means the kernel
// itself is in an inconsistent state, so it panics (spec §7
// "impossible-state") rather than returning an error.
func (as *AddressSpace) assertLoaded() {
	if as.Region1.PBase == 0 || as.Region2.PBase == 0 || as.StackPBase == 0 {
		panic("vmspace: fault against an address space that never completed load")
	}
	if !machine.AlignedVA(as.Region1.VBase) || !machine.Aligned(as.Region1.PBase) ||
		!machine.AlignedVA(as.Region2.VBase) || !machine.Aligned(as.Region2.PBase) ||
		!machine.AlignedVA(as.StackVBase) || !machine.Aligned(as.StackPBase) {
		panic("vmspace: address space has an unaligned base")
	}
}

// stackRegion returns the stack's virtual range [stackvbase -
// STACKPAGES*PAGE_SIZE, stackvbase) as a Region for containment tests.
func (as *AddressSpace) stackRegion() Region {
	lo := as.StackVBase - machine.VA(StackPages*machine.PageSize)
	return Region{VBase: lo, NPages: StackPages, PBase: as.StackPBase}
}
