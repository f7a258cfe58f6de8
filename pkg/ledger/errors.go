package ledger

import "errors"

var (
	ErrInvalidLoan      = errors.New("invalid loan")
	ErrInvalidPayment   = errors.New("payment amount must be positive")
	ErrCurrencyMismatch = errors.New("payment currency does not match loan currency")
	// ErrConcurrencyConflict means another repayment for the same loan was in progress. Safe to retry.
	ErrConcurrencyConflict = errors.New("concurrent repayment in progress")
)
