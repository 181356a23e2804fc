// Package hcube implements a distributor-coordinated maximum reduction
// across 2^d worker processes arranged in a d-dimensional hypercube.
//
// The protocol is strictly batch and fail-fast: recoverable conditions
// are limited to skippable input entities, and every other failure
// funnels into a single ensemble-wide abort.
package hcube

import (
	"errors"
	"fmt"
)

// ErrAborted is the observed cause on every rank other than the one
// whose Fatal tore the ensemble down.
var ErrAborted = errors.New("ensemble aborted")

// A Code classifies the conditions that terminate the whole ensemble.
type Code int

const (
	// CodeConfig: bad dimension or insufficient process slots.
	CodeConfig Code = iota + 1
	// CodeSource: the input source cannot be opened or read.
	CodeSource
	// CodeData: too few accepted values by end of input.
	CodeData
	// CodeTransport: a messaging primitive reported failure.
	CodeTransport
)

func (c Code) String() string {
	switch c {
	case CodeConfig:
		return "configuration"
	case CodeSource:
		return "source"
	case CodeData:
		return "data"
	case CodeTransport:
		return "transport"
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// A Fatal describes an unrecoverable failure observed by one process.
//
// Roles return a *Fatal up the call chain instead of unwinding; a single
// top-level handler notifies the ensemble and terminates the process.
// No Fatal is ever retried or returned to a caller as a recoverable
// result.
type Fatal struct {
	// Rank is the identity of the failing process.
	Rank int
	// Code is the failure class.
	Code Code
	// Op is the operation that failed.
	Op string
	// Err is the underlying cause, if available.
	Err error
}

func (f *Fatal) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("hypercube(%d): %s error %d (`%s')", f.Rank, f.Code, int(f.Code), f.Op)
	}
	return fmt.Sprintf("hypercube(%d): %s error %d (`%s'): %v", f.Rank, f.Code, int(f.Code), f.Op, f.Err)
}

func (f *Fatal) Unwrap() error {
	return f.Err
}
