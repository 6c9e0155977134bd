// Package pfa implements the split-only buddy physical frame allocator
// of spec §4.1: a best-fit scan over an unordered buddy list, followed
// by repeated integer halving until the chosen entry is the smallest
// size still ≥ the request. Splitting never merges back (I4); this is
// a deliberate simplicity/fragmentation tradeoff the spec calls out in
// its rationale, not an oversight.
//
// Grounded on the teacher's free-list allocator (mem/mem.go:
// Physmem_t/_phys_new/_phys_put): manage one contiguous discovered
// extent, mutate it only under a lock, never coalesce.
package pfa

import (
	"github.com/vm161/vm161/internal/ipl"
	"github.com/vm161/vm161/internal/machine"
)

// Entry is one buddy-list record (spec §3): a page-aligned base, a
// length in pages (not necessarily a power of two), and an occupancy
// flag.
type Entry struct {
	PA    machine.PA
	Pages int
	InUse bool
}

// Allocator owns the buddy list for one contiguous physical extent
// discovered at boot. Construct one with New; until Bootstrap runs,
// GetPages delegates to the RAM's linear StealMem and
// never touches the list, matching spec §4.1's pre-init/initialized
// state machine.
type Allocator struct {
	disc        *ipl.Disc
	ram         machine.RAM
	list        []Entry
	initialized bool
}

// New constructs an Allocator over ram, serialized by disc. disc is
// typically shared with the TLB so the whole subsystem is serialized
// by one discipline, as spec §5 describes a uniprocessor kernel.
func New(disc *ipl.Disc, ram machine.RAM) *Allocator {
	return &Allocator{disc: disc, ram: ram}
}

// Bootstrap queries ram for the free extent and records a single free
// buddy spanning it, transitioning the allocator from pre-init to
// initialized (spec §4.1).
func (a *Allocator) Bootstrap() {
	restore := a.disc.Raise()
	defer restore()

	lo, hi := a.ram.GetSize()
	npages := int((hi - lo) / machine.PageSize)
	a.list = []Entry{{PA: lo, Pages: npages, InUse: false}}
	a.initialized = true
}

// Initialized reports whether Bootstrap has run.
func (a *Allocator) Initialized() bool {
	return a.initialized
}

// GetPages returns a page-aligned PA backing a contiguous n-page run,
// or 0 on failure (spec §4.1). It runs with interrupts masked at the
// highest level: GetPages raises internally so callers never need
// their own nested raise around it.
func (a *Allocator) GetPages(n int) machine.PA {
	restore := a.disc.Raise()
	defer restore()

	if !a.initialized {
		return a.ram.StealMem(n)
	}
	return a.calculateBuddy(n)
}

// FreePage marks the buddy whose PA equals pa as not in use. If no
// such buddy exists (including pa == 0, the sentinel for "never
// loaded"), the call is a documented no-op (spec §7, §9).
func (a *Allocator) FreePage(pa machine.PA) {
	restore := a.disc.Raise()
	defer restore()

	for i := range a.list {
		if a.list[i].PA == pa {
			a.list[i].InUse = false
			return
		}
	}
}

// bestFit scans for the free entry with the smallest Pages ≥ n,
// breaking ties by first encounter (spec §4.1 step 1). It returns
// ok == false if no entry qualifies — GetPages then fails by
// returning 0 rather than indexing the list with a sentinel -1, per
// §9's explicit warning about the teacher's unchecked find_buddy.
func (a *Allocator) bestFit(n int) (idx int, ok bool) {
	best := -1
	for i, e := range a.list {
		if e.InUse || e.Pages < n {
			continue
		}
		if best == -1 || e.Pages < a.list[best].Pages {
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return best, true
}

// calculateBuddy implements spec §4.1's allocation algorithm: best-fit
// selection followed by the integer-halving split loop.
func (a *Allocator) calculateBuddy(n int) machine.PA {
	idx, ok := a.bestFit(n)
	if !ok {
		return 0
	}

	for a.list[idx].Pages/2 >= n {
		e := a.list[idx]
		left := e.Pages / 2
		right := e.Pages - left
		a.list[idx] = Entry{PA: e.PA, Pages: left, InUse: false}
		a.list = append(a.list, Entry{PA: e.PA + machine.PA(left*machine.PageSize), Pages: right, InUse: false})
	}

	a.list[idx].InUse = true
	return a.list[idx].PA
}

// Snapshot returns a defensive copy of the current buddy list, for
// diagnostics and tests. It runs under the same discipline as every
// other mutation so it never observes a torn split.
func (a *Allocator) Snapshot() []Entry {
	restore := a.disc.Raise()
	defer restore()

	out := make([]Entry, len(a.list))
	copy(out, a.list)
	return out
}

// FreePages returns the total page count across all free (not in-use)
// entries, used to check the T3 conservation property in tests.
func (a *Allocator) FreePages() int {
	snap := a.Snapshot()
	total := 0
	for _, e := range snap {
		if !e.InUse {
			total += e.Pages
		}
	}
	return total
}
