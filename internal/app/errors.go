package app

import (
	"errors"
	"fmt"

	"github.com/transfa/ledger-service/internal/store"
)

var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrInvalidAmount          = errors.New("amount must be positive with at most two decimal places")
	ErrInvalidTransactionType = errors.New("transaction type must be debit or credit")
	ErrSameAccount            = errors.New("counterparty account must differ from the account")
	ErrAuthenticationFailed   = errors.New("authentication failed")
	ErrInvalidToken           = errors.New("invalid or expired token")
	ErrRateLimited            = errors.New("posting rate limit exceeded")
	ErrSummaryDrift           = errors.New("incremental summary does not match ledger scan")

	// Store rejections surfaced unchanged to callers of this package.
	ErrUnknownAccount      = store.ErrAccountNotFound
	ErrInsufficientFunds   = store.ErrInsufficientFunds
	ErrIdempotencyConflict = store.ErrIdempotencyConflict
)

// RateLimitError carries how long the caller should wait before posting again.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s; retry after %ds", ErrRateLimited, e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
