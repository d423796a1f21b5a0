package store

import (
	"errors"
	"fmt"
)

// ErrUnavailable indicates the persistence layer is unreachable or the
// operation failed transiently. Callers back off and retry the cycle.
var ErrUnavailable = errors.New("store unavailable")

// Unavailable wraps err as a retryable storage failure.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// InvariantViolationError indicates stored state that contradicts the
// data model, e.g. a duplicate active record whose fields differ from
// the insert target. It is never silently repaired: the seller is
// quarantined until an operator intervenes.
type InvariantViolationError struct {
	SellerID  string
	ProductID string
	Detail    string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation for %s/%s: %s", e.SellerID, e.ProductID, e.Detail)
}

// IsInvariantViolation reports whether err is an InvariantViolationError.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolationError
	return errors.As(err, &iv)
}

// IsUnavailable reports whether err is a retryable storage failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
