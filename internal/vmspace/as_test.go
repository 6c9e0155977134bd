package vmspace

import (
	"context"
	"testing"

	"github.com/vm161/vm161/internal/ipl"
	"github.com/vm161/vm161/internal/machine"
	"github.com/vm161/vm161/internal/pfa"
)

// fakeRAM is a minimal machine.RAM backed by a plain byte slice, so
// tests can exercise as_copy's direct-map traffic without mmap.
type fakeRAM struct {
	mem []byte
	lo  machine.PA
}

func newFakeRAM(npages int) *fakeRAM {
	return &fakeRAM{mem: make([]byte, npages*machine.PageSize), lo: 0x10000}
}

func (r *fakeRAM) GetSize() (machine.PA, machine.PA) {
	return r.lo, r.lo + machine.PA(len(r.mem))
}

func (r *fakeRAM) StealMem(n int) machine.PA { return 0 }

// fakeDirectMap maps a fakeRAM's extent 1:1 onto its own byte slice,
// treating PA as a byte offset from the extent base.
type fakeDirectMap struct{ ram *fakeRAM }

func (d *fakeDirectMap) PaddrToKvaddr(pa machine.PA) uintptr { return uintptr(pa - d.ram.lo) }
func (d *fakeDirectMap) KvaddrToPaddr(kva uintptr) machine.PA {
	return d.ram.lo + machine.PA(kva)
}
func (d *fakeDirectMap) Bytes(pa machine.PA, n int) []byte {
	off := int(pa - d.ram.lo)
	return d.ram.mem[off : off+n]
}

type fakeRandomDevice struct{ buf []byte }

func (f *fakeRandomDevice) Read(ctx context.Context, buf []byte) (int, error) {
	return copy(buf, f.buf), nil
}

func newTestAS(npages int) (*AddressSpace, *pfa.Allocator, machine.TLB, *fakeDirectMap) {
	ram := newFakeRAM(npages)
	disc := &ipl.Disc{}
	alloc := pfa.New(disc, ram)
	alloc.Bootstrap()
	tlb := machine.NewSimTLB(4)
	as := Create(disc, alloc, tlb)
	return as, alloc, tlb, &fakeDirectMap{ram: ram}
}

func TestDefineRegionPartitionsAndRoundsUp(t *testing.T) {
	as, _, _, _ := newTestAS(64)

	if err := as.DefineRegion(0x1000, machine.PageSize+1, true, true, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if as.Region1.NPages != 2 {
		t.Fatalf("expected a 1-byte-over-one-page region to round up to 2 pages, got %d", as.Region1.NPages)
	}
	if as.Region1.VBase != 0x1000 {
		t.Fatalf("expected an already-aligned vaddr to pass through unchanged, got 0x%x", uint64(as.Region1.VBase))
	}

	if err := as.DefineRegion(0x3001, 10, false, true, false); err != nil {
		t.Fatalf("unexpected error defining region 2: %v", err)
	}
	if as.Region2.VBase != 0x3000 {
		t.Fatalf("expected an unaligned vaddr to floor down, got 0x%x", uint64(as.Region2.VBase))
	}

	if err := as.DefineRegion(0x5000, machine.PageSize, true, true, true); err == nil {
		t.Fatal("expected a third DefineRegion to fail with TooManyRegions")
	}
}

func TestPrepareLoadRollsBackOnPartialFailure(t *testing.T) {
	// Only 8 pages total: two 1-page regions fit, but the 12-page stack
	// cannot, so PrepareLoad must free the two region extents it
	// already took before returning OutOfMemory.
	as, alloc, _, _ := newTestAS(8)
	if err := as.DefineRegion(0x1000, machine.PageSize, true, true, false); err != nil {
		t.Fatal(err)
	}
	if err := as.DefineRegion(0x3000, machine.PageSize, true, true, false); err != nil {
		t.Fatal(err)
	}

	if err := as.PrepareLoad(); err == nil {
		t.Fatal("expected PrepareLoad to fail when the stack cannot be allocated")
	}
	if got := alloc.FreePages(); got != 8 {
		t.Fatalf("expected PrepareLoad to roll back both region allocations, got %d free pages", got)
	}
	if as.Region1.PBase != 0 || as.Region2.PBase != 0 || as.StackPBase != 0 {
		t.Fatal("expected all physical bases to remain unset after a rolled-back PrepareLoad")
	}
}

func TestPrepareLoadSucceedsAndPanicsIfCalledTwice(t *testing.T) {
	as, _, _, _ := newTestAS(64)
	mustDefineRegions(t, as)

	if err := as.PrepareLoad(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if as.Region1.PBase == 0 || as.Region2.PBase == 0 || as.StackPBase == 0 {
		t.Fatal("expected PrepareLoad to set all three physical bases")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected a second PrepareLoad call to panic")
		}
	}()
	as.PrepareLoad()
}

func TestDefineStackIsDeterministicAndAligned(t *testing.T) {
	as, _, _, _ := newTestAS(64)
	mustDefineRegions(t, as)
	if err := as.PrepareLoad(); err != nil {
		t.Fatal(err)
	}

	rng := &fakeRandomDevice{buf: []byte{0xff, 0xff, 0xff, 0xff}}
	base, err := as.DefineStack(context.Background(), rng)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 0xffffffff % 0x7fa40000 = 0x00b7ffff; + 0x005c0000 = 0x0113ffff,
	// truncated to its page: 0x0113f000.
	if base != 0x0113f000 {
		t.Fatalf("expected the all-ones source to yield stack base 0x0113f000, got 0x%x", uint64(base))
	}
	if !machine.AlignedVA(base) {
		t.Fatalf("expected a page-aligned stack base, got 0x%x", uint64(base))
	}
	if base < stackBaseFloor {
		t.Fatalf("expected the stack base to sit at or above the randomization floor, got 0x%x", uint64(base))
	}
}

func TestDefineStackPanicsBeforePrepareLoad(t *testing.T) {
	as, _, _, _ := newTestAS(64)
	mustDefineRegions(t, as)

	defer func() {
		if recover() == nil {
			t.Fatal("expected DefineStack before PrepareLoad to panic")
		}
	}()
	as.DefineStack(context.Background(), &fakeRandomDevice{buf: []byte{0, 0, 0, 0}})
}

func TestActivateInvalidatesEveryTLBSlot(t *testing.T) {
	as, _, tlb, _ := newTestAS(64)
	for i := 0; i < tlb.NumSlots(); i++ {
		tlb.Write(i, machine.Entry{EntryHi: uint32(i << machine.PageShift), EntryLo: uint32(i<<machine.PageShift) | machine.TLBDirty | machine.TLBValid})
	}

	as.Activate()

	for i := 0; i < tlb.NumSlots(); i++ {
		if tlb.Read(i).Valid() {
			t.Fatalf("expected slot %d to be invalidated by Activate", i)
		}
	}
}

func TestDestroyIsNoOpSafeOnNeverLoadedAS(t *testing.T) {
	as, alloc, _, _ := newTestAS(16)
	as.Destroy() // must not panic even though nothing was ever loaded
	if got := alloc.FreePages(); got != 16 {
		t.Fatalf("expected all pages to remain free, got %d", got)
	}
}

func TestCopyProducesAnIndependentByteIdenticalAddressSpace(t *testing.T) {
	as, _, _, dmap := newTestAS(64)
	mustDefineRegions(t, as)
	if err := as.PrepareLoad(); err != nil {
		t.Fatal(err)
	}
	as.StackVBase = 0x7fff0000

	// Stamp a recognizable byte into region 1's backing extent.
	b := dmap.Bytes(as.Region1.PBase, machine.PageSize)
	b[0] = 0x42

	clone, err := as.Copy(context.Background(), dmap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clone.Region1.PBase == as.Region1.PBase {
		t.Fatal("expected the clone to own a distinct physical extent")
	}
	cb := dmap.Bytes(clone.Region1.PBase, machine.PageSize)
	if cb[0] != 0x42 {
		t.Fatal("expected the clone's extent to be byte-identical to the original")
	}
	if clone.Region1.VBase != as.Region1.VBase || clone.StackVBase != as.StackVBase {
		t.Fatal("expected the clone to preserve virtual metadata exactly")
	}
}

func mustDefineRegions(t *testing.T, as *AddressSpace) {
	t.Helper()
	if err := as.DefineRegion(0x1000, machine.PageSize, true, true, false); err != nil {
		t.Fatalf("DefineRegion 1: %v", err)
	}
	if err := as.DefineRegion(0x400000, machine.PageSize, true, true, false); err != nil {
		t.Fatalf("DefineRegion 2: %v", err)
	}
}
