// Package apperr defines the error kinds returned by the storefront core.
//
// Every failure surfaced to callers is an *Error carrying a Kind and a
// human-readable Reason. Kinds survive fmt.Errorf("...: %w") wrapping, and
// the package-level sentinels match any error of the same kind:
//
//	if errors.Is(err, apperr.ErrStockViolation) { ... }
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidInput
	KindConflict
	KindInsufficientStock
	KindStockViolation
	KindEmptyCart
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindConflict:
		return "conflict"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindStockViolation:
		return "stock_violation"
	case KindEmptyCart:
		return "empty_cart"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "internal"
	}
}

type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	case e.Reason != "":
		return e.Reason
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrStockViolation    = &Error{Kind: KindStockViolation}
	ErrEmptyCart         = &Error{Kind: KindEmptyCart}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized}
)

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, reason string) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

func InvalidInput(format string, args ...any) *Error {
	return Newf(KindInvalidInput, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return Newf(KindConflict, format, args...)
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the human-readable reason of the outermost *Error in
// err's chain, falling back to err.Error().
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Reason != "" {
		return e.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsStockError reports whether err is an inventory exhaustion failure,
// either the advisory check or the authoritative ledger floor.
func IsStockError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) || errors.Is(err, ErrStockViolation)
}
