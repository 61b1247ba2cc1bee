package manager

import "errors"

// Admission errors raised synchronously at submission, before any state
// mutation or enqueue. All are recoverable by retrying with corrected
// input.
var (
	ErrZeroAddress       = errors.New("zero address")
	ErrAmountTooLow      = errors.New("amount below transaction fee")
	ErrUnbalancedAmounts = errors.New("unbalanced amounts")
	ErrZeroAmount        = errors.New("zero amount")
	ErrNotAdmin          = errors.New("caller is not the admin")
	ErrDepositsPaused    = errors.New("deposits are paused")
	ErrWithdrawalsPaused = errors.New("withdrawals are paused")
	ErrClaimsPaused      = errors.New("claims are paused")
	ErrWrongPoolKind     = errors.New("operation does not match pool kind")
)

// FeePolicy decides what happens when a withdrawal's confirmed amount
// for the fee-paying token is smaller than the settlement fee.
type FeePolicy uint8

const (
	// FeePolicyReject skips the settlement entirely.
	FeePolicyReject FeePolicy = iota
	// FeePolicyPartial caps the fee at the confirmed amount; the user
	// receives nothing for that token but the settlement applies.
	FeePolicyPartial
)
