package vmspace

import "sync/atomic"

// CurrentThread is a minimal stand-in for the thread subsystem spec.md
// §1 treats as an external collaborator: it exposes only the one
// field Fault needs, the current thread's address space. Real thread
// switching, scheduling, and thread identity are out of scope.
type CurrentThread struct {
	as atomic.Pointer[AddressSpace]
}

// CurrentAS implements ThreadProvider.
func (t *CurrentThread) CurrentAS() *AddressSpace {
	return t.as.Load()
}

// SetAS installs as as the running address space, the moment a context
// switch or as_activate would perform in a real kernel.
func (t *CurrentThread) SetAS(as *AddressSpace) {
	t.as.Store(as)
}
