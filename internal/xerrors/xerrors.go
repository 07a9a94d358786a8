// Package xerrors adds call-site information to errors without changing
// their messages. The logger reads it back through the PC and StackPCs
// methods to render error_links and stack fields.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxDepth = 64

// withStack carries the stack captured where the error was created.
type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }

// wrap prefixes a message and records the single frame that wrapped.
type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error { return w.err }
func (w *wrap) PC() uintptr   { return w.pc }

// skip counts frames above the exported caller of this package
func stackAt(skip int) []uintptr {
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(3+skip, pcs)
	return pcs[:n]
}

func pcAt(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(3+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// New returns an error with msg and the caller's stack.
func New(msg string) error { return &withStack{err: errors.New(msg), pcs: stackAt(0)} }

// Newf is New with formatting. %w verbs are honored.
func Newf(format string, args ...any) error {
	return &withStack{err: fmt.Errorf(format, args...), pcs: stackAt(0)}
}

// WithStack attaches the caller's stack to err. nil stays nil.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: stackAt(0)}
}

// EnsureTrace is WithStack unless err already carries a stack.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return &withStack{err: err, pcs: stackAt(0)}
}

// Wrap prefixes err with msg. nil stays nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: pcAt(0)}
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: pcAt(0)}
}
