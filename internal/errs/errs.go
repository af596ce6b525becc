// Package errs defines the error kinds the core engine raises, matching the
// error handling design of the encrypted database: callers can tell an I/O
// failure apart from a corrupted file or a wrong key using errors.As, while
// the underlying cause (a short read, a bad MAC, a library error) is still
// reachable through the wrap chain.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies which of the core's error categories a failure belongs to.
type Kind int

const (
	KindIO Kind = iota
	KindFormat
	KindCorruption
	KindCrypto
	KindKey
	KindInvariant
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IoError"
	case KindFormat:
		return "FormatError"
	case KindCorruption:
		return "CorruptionError"
	case KindCrypto:
		return "CryptoError"
	case KindKey:
		return "KeyError"
	case KindInvariant:
		return "InvariantViolation"
	case KindCancelled:
		return "Cancelled"
	default:
		return "UnknownError"
	}
}

// Error is a typed, wrapped error. Op names the failing operation (e.g.
// "codec.ReadHeader"), Path is the offending file path when known.
type Error struct {
	Kind Kind
	Op   string
	Path string
	err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Op, e.Path, e.err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.err)
}

func (e *Error) Unwrap() error { return e.err }

// Is makes errors.Is(err, &errs.Error{Kind: k}) match any *Error of the same
// Kind. Only *Error targets match; a bare Kind is not an error value.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

func wrap(kind Kind, op, path string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, err: errors.WithStack(cause)}
}

func IO(op, path string, cause error) error   { return wrap(KindIO, op, path, cause) }
func Format(op string, cause error) error     { return wrap(KindFormat, op, "", cause) }
func Corruption(op string, cause error) error { return wrap(KindCorruption, op, "", cause) }
func Crypto(op string, cause error) error     { return wrap(KindCrypto, op, "", cause) }
func Key(op string, cause error) error        { return wrap(KindKey, op, "", cause) }
func Invariant(op string, cause error) error  { return wrap(KindInvariant, op, "", cause) }
func Cancelled(op string, cause error) error  { return wrap(KindCancelled, op, "", cause) }

// Of reports whether err (or something it wraps) is an *Error of the given
// Kind.
func Of(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
