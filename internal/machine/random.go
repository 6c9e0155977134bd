package machine

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/sync/semaphore"
)

// RandomDevice is the randomness source consumed by the stack
// randomizer (spec §4.5/§6): an opaque byte stream opened by path
// "random:" in read-only mode, read serially, outside the IPL
// discipline since the read may block.
type RandomDevice interface {
	// Read fills buf with raw bytes from the device, blocking until it
	// is done or ctx is canceled. It returns the number of bytes read.
	Read(ctx context.Context, buf []byte) (int, error)
}

// SimRandomDevice models the "random:" device opened once at
// bootstrap and read serially (spec §5 "Shared resources"). It uses a
// weighted semaphore of 1 rather than a bare sync.Mutex because the
// external randomness read is a blocking, cancellable I/O operation —
// semaphore.Weighted's context-aware Acquire lets a caller (e.g.
// cmd/vm161sim) impose a read deadline the way a real device open in
// O_NONBLOCK-adjacent mode would.
type SimRandomDevice struct {
	sem    *semaphore.Weighted
	source io.Reader
}

// NewSimRandomDevice opens the device, reading from src (crypto/rand.Reader
// if src is nil).
func NewSimRandomDevice(src io.Reader) *SimRandomDevice {
	if src == nil {
		src = rand.Reader
	}
	return &SimRandomDevice{sem: semaphore.NewWeighted(1), source: src}
}

// Read implements RandomDevice, serializing concurrent callers and
// respecting ctx cancellation while waiting for the device to become
// available.
func (d *SimRandomDevice) Read(ctx context.Context, buf []byte) (int, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return 0, fmt.Errorf("machine: acquiring random device: %w", err)
	}
	defer d.sem.Release(1)
	return io.ReadFull(d.source, buf)
}
