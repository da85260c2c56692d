package staking

import "errors"

var (
	ErrInvalidTier   = errors.New("invalid difficulty tier")
	ErrAlreadyStaked = errors.New("token already staked")
	ErrNotStaked     = errors.New("token not staked")
	ErrNotOwner      = errors.New("caller does not own token")
)
