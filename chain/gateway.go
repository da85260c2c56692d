package chain

import (
	"context"
	"math/big"
	"time"

	"proof-badge-system/staking"

	"github.com/ethereum/go-ethereum/common"
)

type MintRequest struct {
	To              common.Address
	ChallengeIDHash *big.Int
	ProofHash       common.Hash
	MetadataURI     string
}

type MintReceipt struct {
	TxHash      string
	TokenID     *big.Int
	BlockNumber uint64
}

type TxReceipt struct {
	TxHash      string
	BlockNumber uint64
}

// StakeInfo is the contract's view of one staked token.
type StakeInfo struct {
	Owner       common.Address
	StakedAt    time.Time
	LastClaimAt time.Time
	Tier        staking.Tier
}

type BadgeGateway interface {
	// Configured reports whether mint calls can reach a real contract.
	Configured() bool
	MintBadge(ctx context.Context, req MintRequest) (*MintReceipt, error)
	GetBadgesOf(ctx context.Context, owner common.Address) ([]*big.Int, error)
	HasChallengeBadge(ctx context.Context, owner common.Address, challengeIDHash *big.Int) (bool, error)
}

type StakingGateway interface {
	StakingConfigured() bool
	Stake(ctx context.Context, signer Signer, tokenID *big.Int, tier staking.Tier) (*TxReceipt, error)
	Unstake(ctx context.Context, signer Signer, tokenID *big.Int) (*TxReceipt, error)
	ClaimRewards(ctx context.Context, signer Signer, tokenID *big.Int) (*TxReceipt, error)
	ClaimAllRewards(ctx context.Context, signer Signer) (*TxReceipt, error)
	PendingRewards(ctx context.Context, tokenID *big.Int) (*big.Int, error)
	TotalPendingRewards(ctx context.Context, owner common.Address) (*big.Int, error)
	GetStakedTokens(ctx context.Context, owner common.Address) ([]*big.Int, error)
	GetStake(ctx context.Context, tokenID *big.Int) (*StakeInfo, error)
}

type Gateway interface {
	BadgeGateway
	StakingGateway
}
