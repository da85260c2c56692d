package chain

import (
	"errors"
	"fmt"
)

var (
	ErrNotConfigured  = errors.New("chain gateway not configured")
	ErrSignerMismatch = errors.New("signed transaction does not match requested call")
	ErrTxReverted     = errors.New("transaction reverted")
	ErrTokenNotOwned  = errors.New("token not owned by signer")
)

// PendingTxError is returned when a transaction was broadcast but its receipt
// did not arrive in time. The transaction may still confirm.
type PendingTxError struct {
	TxHash string
	Err    error
}

func (e *PendingTxError) Error() string {
	return fmt.Sprintf("tx %s not confirmed: %v", e.TxHash, e.Err)
}

func (e *PendingTxError) Unwrap() error { return e.Err }

// UnindexedMintError is returned when a mint was mined but its receipt has no
// BadgeMinted event, so the token id is unknown.
type UnindexedMintError struct {
	TxHash string
}

func (e *UnindexedMintError) Error() string {
	return fmt.Sprintf("tx %s mined without a BadgeMinted event", e.TxHash)
}
