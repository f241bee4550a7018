// Package apperr holds the error kinds shared by the shop packages.
// Package-level sentinels wrap one of these so callers can classify
// failures with errors.Is without knowing the originating package.
package apperr

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrVerificationFailed    = errors.New("verification failed")
	ErrAmountMismatch        = errors.New("amount mismatch")
	ErrTransactionUnverified = errors.New("transaction unverified")
	ErrStateConflict         = errors.New("state conflict")
	ErrUnavailable           = errors.New("unavailable")
)

// Kind returns the shared sentinel err belongs to, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrNotFound, ErrValidation, ErrInsufficientStock,
		ErrVerificationFailed, ErrAmountMismatch, ErrTransactionUnverified,
		ErrStateConflict, ErrUnavailable,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
