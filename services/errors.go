package services

import (
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyProcessed = errors.New("submission already processed")
	ErrWalletNotFound   = errors.New("user wallet address not found, user may not have completed wallet login")
	// ErrChainUnavailable is recorded on degraded issuances; approvals do not fail with it.
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrAlreadyMinted means a badge record already exists for the submission.
	ErrAlreadyMinted      = errors.New("badge already issued for submission")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrInvalidInput       = errors.New("invalid input")
)

// Clock is injected so accrual and issuance timestamps are testable.
type Clock func() time.Time
