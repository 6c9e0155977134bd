// Package vmerr defines the error kinds the VM subsystem surfaces to its
// callers (spec §7). Each runtime condition gets a small integer Code,
// wrapped in an Error so it still composes with errors.Is/errors.As.
//
// Impossible-state conditions (a READONLY fault, a failed bootstrap
// allocation, an unaligned invariant) are not represented here: per §7
// they are fatal and the code that detects them panics directly.
package vmerr

import "fmt"

// Code identifies one of the runtime failure modes spec §7 names.
type Code int

const (
	// OutOfMemory means the PFA could not satisfy an extent request.
	OutOfMemory Code = iota + 1
	// BadAddress means a fault address was outside any region, no TLB
	// slot was free, or no address space was current.
	BadAddress
	// InvalidArgument means an unrecognized fault type was given.
	InvalidArgument
	// TooManyRegions means a third define_region call was attempted.
	TooManyRegions
)

func (c Code) String() string {
	switch c {
	case OutOfMemory:
		return "out-of-memory"
	case BadAddress:
		return "bad-address"
	case InvalidArgument:
		return "invalid-argument"
	case TooManyRegions:
		return "too-many-regions"
	default:
		return "unknown-vmerr-code"
	}
}

// Error pairs a Code with the operation that produced it.
type Error struct {
	Code Code
	Op   string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code.String())
}

// Is lets errors.Is(err, vmerr.OutOfMemory) work by comparing Codes,
// since callers usually only care about the failure class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs an Error for op describing code.
func New(op string, code Code) *Error {
	return &Error{Code: code, Op: op}
}

// Sentinel errors for errors.Is comparisons without constructing a full
// Error value (e.g. `errors.Is(err, vmerr.ErrOutOfMemory)`).
var (
	ErrOutOfMemory     = &Error{Code: OutOfMemory}
	ErrBadAddress      = &Error{Code: BadAddress}
	ErrInvalidArgument = &Error{Code: InvalidArgument}
	ErrTooManyRegions  = &Error{Code: TooManyRegions}
)
