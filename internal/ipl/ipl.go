// Package ipl implements the interrupt-priority-level discipline of
// spec §4.2/§5: every allocator mutation, every TLB read/write, and the
// entire fault handler body run inside a scoped raise to the highest
// level, with guaranteed restoration on every exit path. Nested raises
// are idempotent: only the outermost raise's restore actually releases
// the critical section, and a goroutine that is already holding the
// raise can call Raise again without blocking against itself.
//
// The teacher (biscuit) has no explicit splhigh-style call in the
// retrieved sources; it serializes the same critical sections with a
// plain sync.Mutex embedded on Physmem_t and Vm_t (Lock_pmap/
// Unlock_pmap in vm/as.go), which biscuit itself documents as not
// reentrant (a commented-out "double lock" panic in Lock_pmap). On real
// MIPS hardware, though, the interrupt priority level is per-CPU state:
// the one thread of execution that already raised it can raise it
// again without contending with itself, since nothing else can be
// running at that level on a uniprocessor. Disc models that distinction
// by tracking which goroutine currently holds the critical section and
// only blocking other goroutines, while still using the teacher's
// mutex-scoped idiom to serialize distinct goroutines standing in for
// distinct threads of control.
package ipl

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// Disc is one interrupt-discipline domain. The zero value is ready to
// use. A single Disc instance is meant to guard the state of one PFA
// and TLB pair; each vm161.System holds one.
type Disc struct {
	crit sync.Mutex // the actual critical section; held across Raise/restore

	meta  sync.Mutex // guards owner/level bookkeeping below
	owner int64      // goroutine id holding crit, 0 if unheld
	level int        // raise nesting depth of owner, 0 if unheld
}

// Raise elevates this discipline's priority to the highest level and
// returns a function that restores the previous level. Raise must be
// paired with exactly one call to the returned restore function,
// ordinarily via `defer`. A goroutine that calls Raise while it already
// holds the critical section nests: the call returns immediately with
// an incremented level instead of blocking, and only the matching
// outermost restore releases the section to other goroutines.
func (d *Disc) Raise() func() {
	gid := goroutineID()

	d.meta.Lock()
	if d.owner == gid {
		d.level++
		mine := d.level
		d.meta.Unlock()
		return d.restorer(gid, mine)
	}
	d.meta.Unlock()

	d.crit.Lock()
	d.meta.Lock()
	d.owner = gid
	d.level = 1
	d.meta.Unlock()
	return d.restorer(gid, 1)
}

// restorer returns the restore closure for a raise held by gid at
// nesting depth mine.
func (d *Disc) restorer(gid int64, mine int) func() {
	return func() {
		d.meta.Lock()
		if d.owner != gid || d.level != mine {
			d.meta.Unlock()
			panic("ipl: unbalanced raise/restore")
		}
		d.level--
		if d.level > 0 {
			d.meta.Unlock()
			return
		}
		d.owner = 0
		d.meta.Unlock()
		d.crit.Unlock()
	}
}

// MustHold panics if the discipline's level is not currently raised by
// the calling goroutine. It is for code that requires its caller to
// already be inside a critical section rather than raising redundantly;
// the allocator and fault handler raise for themselves and do not call
// it.
func (d *Disc) MustHold() {
	gid := goroutineID()
	d.meta.Lock()
	held := d.owner == gid && d.level > 0
	d.meta.Unlock()
	if !held {
		panic("ipl: critical section entered without a raise")
	}
}

// goroutineID parses the calling goroutine's id out of its own stack
// trace header ("goroutine 123 [running]:..."). This is the same
// technique debugging tools like gopls' race detector helpers use to
// recover goroutine identity, which the runtime otherwise keeps
// private; Disc needs it only to tell "the goroutine that already holds
// this critical section" from "a different one", never as a general
// goroutine-local storage mechanism.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		panic("ipl: could not parse goroutine id from stack trace")
	}
	id, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		panic("ipl: could not parse goroutine id: " + err.Error())
	}
	return id
}
