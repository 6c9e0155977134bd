// Package diag implements the read-only diagnostic dumps of spec §4.6:
// a line-oriented ASCII table over the hardware TLB, and one over the
// buddy list. Used from the fault handler on translation failure
// (spec §4.4 step 6) and, as a SPEC_FULL supplement, as a standalone
// API so callers can snapshot state without forcing a real fault —
// mirroring the teacher's Physmem_t.Pgcount (mem/mem.go), which exists
// purely for external introspection.
package diag

import (
	"fmt"
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/vm161/vm161/internal/machine"
	"github.com/vm161/vm161/internal/pfa"
)

// DumpTLB writes a line-oriented table of every TLB slot (index, ehi,
// elo) to w.
func DumpTLB(w io.Writer, tlb machine.TLB) {
	fmt.Fprintf(w, "%-6s %-12s %-12s\n", "index", "ehi", "elo")
	for i := 0; i < tlb.NumSlots(); i++ {
		e := tlb.Read(i)
		fmt.Fprintf(w, "%-6d 0x%08x   0x%08x\n", i, e.EntryHi, e.EntryLo)
	}
}

// DumpBuddyList writes a line-oriented table of the PFA's buddy list
// (index, base, pages, in-use) to w, with page/byte totals formatted
// via golang.org/x/text/message for locale-aware grouping.
func DumpBuddyList(w io.Writer, alloc *pfa.Allocator) {
	p := message.NewPrinter(language.English)
	list := alloc.Snapshot()

	fmt.Fprintf(w, "%-6s %-14s %-10s %-6s\n", "index", "base", "pages", "inuse")
	total := 0
	for i, e := range list {
		fmt.Fprintf(w, "%-6d 0x%010x %-10d %-6t\n", i, uint64(e.PA), e.Pages, e.InUse)
		total += e.Pages
	}
	p.Fprintf(w, "total: %d entries, %d pages (%d bytes)\n", len(list), total, total*machine.PageSize)
}
