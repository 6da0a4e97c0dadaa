// Package xerrors adds call-site information to errors without changing
// their messages. New, Newf, WithStack and EnsureTrace capture a full stack;
// Wrap and Wrapf record the single frame that added context. The log package
// reads both when rendering error_links and stack attributes.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

// stacked carries the program counters captured where the error entered
// our code.
type stacked struct {
	err error
	pcs []uintptr
}

func (s *stacked) Error() string       { return s.err.Error() }
func (s *stacked) Unwrap() error       { return s.err }
func (s *stacked) StackPCs() []uintptr { return s.pcs }
func (s *stacked) IsXerrorsWrapper()   {}

// annotated prefixes a message and remembers the caller of Wrap/Wrapf.
type annotated struct {
	err error
	msg string
	pc  uintptr
}

func (a *annotated) Error() string     { return a.msg + ": " + a.err.Error() }
func (a *annotated) Unwrap() error     { return a.err }
func (a *annotated) PC() uintptr       { return a.pc }
func (a *annotated) IsXerrorsWrapper() {}

// callers skips runtime.Callers, callers itself and skip more frames.
func callers(skip int) []uintptr {
	pcs := make([]uintptr, maxStackDepth)
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func caller(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

func attachStack(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &stacked{err: err, pcs: callers(skip + 1)}
}

// New returns an error with msg and the caller's stack.
func New(msg string) error { return attachStack(errors.New(msg), 1) }

// Newf is New with fmt formatting; %w is honoured.
func Newf(format string, args ...any) error {
	return attachStack(fmt.Errorf(format, args...), 1)
}

// WithStack attaches the caller's stack to err unconditionally.
func WithStack(err error) error { return attachStack(err, 1) }

// EnsureTrace attaches a stack only when nothing in the chain has one yet.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	if HasStack(err) {
		return err
	}
	return attachStack(err, 1)
}

// HasStack reports whether any error in the chain carries a captured stack.
func HasStack(err error) bool {
	var hs interface{ StackPCs() []uintptr }
	return errors.As(err, &hs) && len(hs.StackPCs()) > 0
}

// Wrap prefixes err with msg. Returns nil for a nil err.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: msg, pc: caller(1)}
}

// Wrapf is Wrap with fmt formatting of the prefix.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &annotated{err: err, msg: fmt.Sprintf(format, args...), pc: caller(1)}
}
