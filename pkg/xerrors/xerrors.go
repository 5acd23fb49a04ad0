package xerrors

import (
	"errors"
	iofs "io/fs"
	"os"
)

// Kind classifies xpaste errors.
type Kind int

const (
	KindInvalid Kind = iota
	KindNotFound
	KindForbidden
	KindEmpty
	KindTooLarge
	KindInternal
)

// Sentinel errors for comparisons with errors.Is.
var (
	ErrNotFound  = E(KindNotFound, "", "")
	ErrForbidden = E(KindForbidden, "", "")
	ErrEmpty     = E(KindEmpty, "", "")
	ErrTooLarge  = E(KindTooLarge, "", "")
)

// Error wraps an underlying error with additional metadata.
type Error struct {
	Kind Kind
	Op   string
	Code string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Kind.String()
	if e.Op != "" {
		base = e.Op + ": " + base
	}
	if e.Code != "" {
		base += " " + e.Code
	}
	if e.Err != nil {
		return base + ": " + e.Err.Error()
	}
	return base
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. It lets callers
// match the package sentinels regardless of Op and Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Code == "" && t.Err == nil && t.Kind == e.Kind
}

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindForbidden:
		return "forbidden"
	case KindEmpty:
		return "empty content"
	case KindTooLarge:
		return "content too large"
	case KindInternal:
		return "internal error"
	default:
		return "invalid"
	}
}

// Wrap annotates err with the given metadata. If err is nil, Wrap returns nil.
func Wrap(kind Kind, op, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

// E creates a new error with the provided metadata (no underlying error).
func E(kind Kind, op, code string) error {
	return &Error{Kind: kind, Op: op, Code: code}
}

// KindOf extracts the Kind from err, walking wrapped errors as needed.
func KindOf(err error) Kind {
	if err == nil {
		return KindInvalid
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, iofs.ErrNotExist),
		errors.Is(err, os.ErrNotExist):
		return KindNotFound
	case errors.Is(err, iofs.ErrPermission),
		errors.Is(err, os.ErrPermission):
		return KindForbidden
	case errors.Is(err, iofs.ErrInvalid):
		return KindInvalid
	default:
		return KindInternal
	}
}

// Classify wraps err with op and code, keeping an existing classification
// when err already carries one and otherwise deriving it with KindOf.
func Classify(op, code string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Code: code, Err: err}
}
