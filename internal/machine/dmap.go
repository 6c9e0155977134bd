package machine

import "unsafe"

// SimDirectMap implements DirectMap over a SimRAM: the "kernel VA" for
// a PA is simply the address of the corresponding byte in the mmap'd
// backing slice, offset by a fixed window base so the two address
// spaces (PA, kernel VA) never numerically collide — mirroring the
// teacher's Vdirect window (mem/dmap.go) without needing a real MMU.
type SimDirectMap struct {
	ram  *SimRAM
	base uintptr // kernel VA of ram.mem[0]
}

// NewSimDirectMap builds the direct map for ram.
func NewSimDirectMap(ram *SimRAM) *SimDirectMap {
	return &SimDirectMap{
		ram:  ram,
		base: uintptr(unsafe.Pointer(&ram.mem[0])),
	}
}

// PaddrToKvaddr implements DirectMap.
func (d *SimDirectMap) PaddrToKvaddr(pa PA) uintptr {
	if pa < d.ram.lo || pa >= d.ram.hi {
		panic("machine: PaddrToKvaddr: address outside RAM extent")
	}
	return d.base + uintptr(pa-d.ram.lo)
}

// KvaddrToPaddr implements DirectMap, the inverse of PaddrToKvaddr
// (spec R1: round-trips for every RAM pa).
func (d *SimDirectMap) KvaddrToPaddr(kva uintptr) PA {
	if kva < d.base || kva >= d.base+uintptr(len(d.ram.mem)) {
		panic("machine: KvaddrToPaddr: address outside direct map window")
	}
	return d.ram.lo + PA(kva-d.base)
}

// Bytes returns the n-byte, page-aligned slice of simulated RAM backing
// pa, for callers (the PFA's zero-fill, as_copy's bytewise copy) that
// need to read or write through the direct map directly rather than via
// a raw kernel VA and unsafe.Pointer arithmetic.
func (d *SimDirectMap) Bytes(pa PA, n int) []byte {
	return d.ram.bytesAt(pa, n)
}
