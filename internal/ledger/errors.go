package ledger

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("resource conflict")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidAmount     = errors.New("invalid amount (must be > 0)")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountBlocked    = errors.New("account is blocked")
	ErrNotEligible       = errors.New("member is not eligible")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrConcurrency       = errors.New("concurrent update conflict, retries exhausted")
)
