// Package gterr classifies the errors produced by the architecture layer.
//
// Errors fall into three tiers:
//
//   - Internal: the debugger's model of the device is corrupt (bad bit
//     offset, double free, missing register). The caller should abort.
//   - Target: the device or its environment failed the operation (memory
//     fault, malformed debug area, unsupported device, scratch exhausted).
//     The operation in flight is aborted but the session stays usable.
//   - Soft: an anomaly worth a warning; execution continues.
package gterr

import (
	"errors"
	"fmt"
)

// Kind is the tier of an Error.
type Kind uint8

const (
	Internal Kind = iota + 1
	Target
	Soft
)

func (k Kind) String() string {
	switch k {
	case Internal:
		return "internal error"
	case Target:
		return "target error"
	case Soft:
		return "warning"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Error is an error tagged with its tier and the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Internalf returns an Internal error for op.
func Internalf(op, format string, args ...interface{}) error {
	return &Error{Kind: Internal, Op: op, Err: fmt.Errorf(format, args...)}
}

// Targetf returns a Target error for op.
func Targetf(op, format string, args ...interface{}) error {
	return &Error{Kind: Target, Op: op, Err: fmt.Errorf(format, args...)}
}

// Softf returns a Soft error for op.
func Softf(op, format string, args ...interface{}) error {
	return &Error{Kind: Soft, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap tags err with kind and op. If err already carries a kind it is kept
// and only the operation is added.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		kind = e.Kind
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the tier of err. Errors that were never classified are
// treated as Target errors, the conservative choice for a failure coming
// from a collaborator.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Target
}

func IsInternal(err error) bool { return KindOf(err) == Internal }
func IsTarget(err error) bool   { return KindOf(err) == Target }
func IsSoft(err error) bool     { return KindOf(err) == Soft }
