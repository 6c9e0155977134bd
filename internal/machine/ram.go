package machine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SimRAM backs the simulated physical RAM extent with a real anonymous
// mmap, grounded on the SnellerInc/sneller VMM pattern: one fixed-size
// anonymous mapping stands in for "the free physical extent ram_getsize
// reports". A one-page PROT_NONE guard is mapped as a separate
// anonymous mapping; the kernel places it independently, so it is not
// guaranteed to sit directly past the usable extent. Out-of-range
// accesses through bytesAt are caught by its own bounds check.
type SimRAM struct {
	mem    []byte
	guard  []byte
	lo, hi PA
	stolen PA // next address StealMem will hand out
}

// NewSimRAM mmaps npages of simulated RAM starting at a fixed
// fictitious base address (mirroring the teacher's choice of an
// arbitrary low-memory base in mem/mem.go) and returns a SimRAM ready
// for Bootstrap.
func NewSimRAM(npages int) (*SimRAM, error) {
	if npages <= 0 {
		return nil, fmt.Errorf("machine: NewSimRAM: npages must be positive, got %d", npages)
	}
	size := npages * PageSize
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("machine: mmap %d bytes: %w", size, err)
	}
	guard, err := unix.Mmap(-1, 0, PageSize, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		_ = unix.Munmap(mem)
		return nil, fmt.Errorf("machine: mmap guard page: %w", err)
	}
	const base = PA(0x00100000) // arbitrary low-memory base, as in the teacher
	r := &SimRAM{
		mem:    mem,
		guard:  guard,
		lo:     base,
		hi:     base + PA(size),
		stolen: base,
	}
	return r, nil
}

// Close releases the backing mmap regions.
func (r *SimRAM) Close() error {
	err1 := unix.Munmap(r.mem)
	err2 := unix.Munmap(r.guard)
	if err1 != nil {
		return err1
	}
	return err2
}

// GetSize implements RAM.
func (r *SimRAM) GetSize() (lo, hi PA) {
	return r.lo, r.hi
}

// StealMem implements RAM: it hands out n pages linearly from the
// front of the extent and never returns them, used only before the PFA
// is initialized (spec §4.1).
func (r *SimRAM) StealMem(n int) PA {
	if n <= 0 {
		return 0
	}
	need := PA(n * PageSize)
	if r.stolen+need > r.hi {
		return 0
	}
	pa := r.stolen
	r.stolen += need
	return pa
}

// bytesAt returns the backing byte slice for the n-byte range
// [pa, pa+n) within this RAM region. It panics if the range
// falls outside the extent, the same contract the direct map gives the
// rest of the subsystem (a PA it hands out is always backed).
func (r *SimRAM) bytesAt(pa PA, n int) []byte {
	if pa < r.lo || pa+PA(n) > r.hi {
		panic("machine: address outside simulated RAM extent")
	}
	off := int(pa - r.lo)
	return r.mem[off : off+n]
}
