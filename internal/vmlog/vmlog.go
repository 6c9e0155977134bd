// Package vmlog is the subsystem's single operational logging surface:
// a rejected third region (as_define_region) and TLB exhaustion in the
// fault handler go through one package-level *log.Logger writing to a
// configurable io.Writer, rather than ad hoc prints. Bootstrap and
// allocation failures are not logged; they are only returned.
// Grounded on gopher-os's kernel/kfmt.SetOutputSink convention (one
// narrow logging entry point, redirectable by the caller) adapted to
// the standard library's log.Logger instead of kfmt's early-boot-safe
// Printf, since this module runs as an ordinary userland process with
// no early-boot phase of its own.
package vmlog

import (
	"io"
	"log"
	"os"
)

var logger = log.New(os.Stderr, "vm161: ", log.LstdFlags)

// SetOutput redirects the subsystem's log output to w.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Printf logs a formatted line through the subsystem's shared logger.
func Printf(format string, args ...any) {
	logger.Printf(format, args...)
}
