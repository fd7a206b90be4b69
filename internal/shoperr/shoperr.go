// Package shoperr defines the shop's domain error kinds. Handlers map kinds
// to HTTP statuses at the boundary; everything below the handlers returns
// these instead of raw strings so the caller can always tell why an
// operation was rejected.
package shoperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindVariantUnavailable Kind = "variant_unavailable"
	KindInvalidQuantity    Kind = "invalid_quantity"
	KindOutOfStock         Kind = "out_of_stock"
	KindInsufficientStock  Kind = "insufficient_stock"
	KindEmptyCart          Kind = "empty_cart"
	KindValidation         Kind = "validation"
	// KindFatal marks a post-reservation persistence failure. It must never
	// be downgraded to success and is logged for reconciliation.
	KindFatal    Kind = "fatal"
	KindInternal Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// StockError reports a reservation shortfall with enough detail for the
// caller to say which product is short and by how much.
type StockError struct {
	ProductID uint
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// KindOf classifies any error; unknown errors are KindInternal.
func KindOf(err error) Kind {
	var se *StockError
	if errors.As(err, &se) {
		return KindInsufficientStock
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind to the status the API boundary responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindVariantUnavailable, KindInvalidQuantity, KindEmptyCart, KindValidation:
		return http.StatusBadRequest
	case KindOutOfStock, KindInsufficientStock:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
