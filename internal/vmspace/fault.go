package vmspace

import (
	"github.com/vm161/vm161/internal/ipl"
	"github.com/vm161/vm161/internal/machine"
	"github.com/vm161/vm161/internal/vmerr"
	"github.com/vm161/vm161/internal/vmlog"
)

// FaultType classifies a TLB miss or write-to-clean-page trap (spec
// §4.4).
type FaultType int

const (
	// FaultReadOnly means the hardware trapped a write to a page that
	// was not marked dirty. Every page this subsystem installs is
	// dirty (spec §6), so this fault type can never legitimately occur
	// — receiving one means a VM invariant was violated, and per spec
	// §7 that is fatal.
	FaultReadOnly FaultType = iota
	// FaultRead is a load that missed the TLB.
	FaultRead
	// FaultWrite is a store that missed the TLB.
	FaultWrite
)

// ThreadProvider yields the current thread's address space, or nil if
// there is none (spec §6 "current_thread.vmspace"; early boot has no
// current thread, which Fault treats as bad-address rather than a
// nil-pointer crash, per spec §4.4 step 4).
type ThreadProvider interface {
	CurrentAS() *AddressSpace
}

// DumpFunc is called with the faulting address space when Fault cannot
// resolve faultaddr to any region, so the caller's diagnostics package
// can dump allocator state (spec §4.4 step 6, §4.6). A nil DumpFunc is
// fine; Fault simply skips the dump.
type DumpFunc func(as *AddressSpace)

// Fault resolves a faulting virtual address via the current thread's
// address space and installs a TLB entry (spec §4.4). The entire body
// runs under disc's raise, making {read AS → decide mapping → write
// TLB} atomic with respect to any other handler invocation, context
// switch, or allocator operation (spec "Ordering").
func Fault(disc *ipl.Disc, tlb machine.TLB, threads ThreadProvider, dump DumpFunc, faulttype FaultType, faultaddress machine.VA) error {
	restore := disc.Raise()
	defer restore()

	fa := machine.PageFloorVA(faultaddress)

	switch faulttype {
	case FaultReadOnly:
		panic("vmspace: READONLY fault — all pages are installed dirty, this is impossible")
	case FaultRead, FaultWrite:
		// recognized
	default:
		return vmerr.New("vm_fault", vmerr.InvalidArgument)
	}

	as := threads.CurrentAS()
	if as == nil {
		return vmerr.New("vm_fault", vmerr.BadAddress)
	}
	as.assertLoaded()

	paddr, ok := translate(as, fa)
	if !ok {
		if dump != nil {
			dump(as)
		}
		return vmerr.New("vm_fault", vmerr.BadAddress)
	}
	if !machine.Aligned(paddr) {
		panic("vmspace: translate produced an unaligned physical address")
	}

	slot, ok := firstInvalidSlot(tlb)
	if !ok {
		vmlog.Printf("vm_fault: TLB exhausted, no free slot for vaddr=0x%x", uint64(fa))
		return vmerr.New("vm_fault", vmerr.BadAddress)
	}
	tlb.Write(slot, machine.Entry{
		EntryHi: uint32(fa),
		EntryLo: uint32(paddr) | machine.TLBDirty | machine.TLBValid,
	})
	return nil
}

// translate determines which region contains fa and computes the
// physical address by linear offset within it (spec §4.4 step 6).
func translate(as *AddressSpace, fa machine.VA) (machine.PA, bool) {
	for _, reg := range []Region{as.Region1, as.Region2, as.stackRegion()} {
		if reg.contains(fa) {
			off := int(fa - reg.VBase)
			return reg.PBase + machine.PA(off), true
		}
	}
	return 0, false
}

// firstInvalidSlot finds the first TLB slot whose entry lacks the
// VALID bit (spec §4.4 step 8). Eviction is not implemented — a full
// TLB with no free slot fails the fault rather than reclaiming one
// (spec §9).
func firstInvalidSlot(tlb machine.TLB) (int, bool) {
	for i := 0; i < tlb.NumSlots(); i++ {
		if !tlb.Read(i).Valid() {
			return i, true
		}
	}
	return 0, false
}
