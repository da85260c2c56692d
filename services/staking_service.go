package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"proof-badge-system/chain"
	"proof-badge-system/metrics"
	"proof-badge-system/staking"
	"proof-badge-system/utils"

	"github.com/ethereum/go-ethereum/common"
)

// StakingService fronts the staking contract. Reads are served from the
// in-process ledger mirror; writes go to the chain first and only then
// touch the mirror.
type StakingService struct {
	Chain   chain.Gateway
	Ledger  *staking.Ledger
	ChainID *big.Int
	Symbol  string

	// SyncTTL bounds how long a read trusts the mirror before reloading an
	// owner's stakes from the chain. Writes always reload.
	SyncTTL time.Duration

	now    Clock
	synced sync.Map // common.Address → time.Time of the last reload
}

const defaultSyncTTL = 30 * time.Second

func NewStakingService(gw chain.Gateway, ledger *staking.Ledger, chainID *big.Int, symbol string, now Clock) *StakingService {
	if now == nil {
		now = time.Now
	}
	return &StakingService{Chain: gw, Ledger: ledger, ChainID: chainID, Symbol: symbol, SyncTTL: defaultSyncTTL, now: now}
}

type TierRate struct {
	Tier        uint8  `json:"tier"`
	Difficulty  string `json:"difficulty"`
	DailyWei    string `json:"daily_wei"`
	DailyTokens string `json:"daily_tokens"`
}

func (s *StakingService) Rates() []TierRate {
	rates := s.Ledger.Rates()
	out := make([]TierRate, 0, 4)
	for t := staking.TierEasy; t <= staking.TierExpert; t++ {
		daily, _ := rates.Daily(t)
		out = append(out, TierRate{
			Tier:        uint8(t),
			Difficulty:  t.String(),
			DailyWei:    daily.String(),
			DailyTokens: utils.FormatTokenAmount(daily, rates.Decimals()),
		})
	}
	return out
}

// Signer wraps a client-signed raw transaction for relaying.
func (s *StakingService) Signer(rawTx string) (chain.Signer, error) {
	if rawTx == "" {
		return nil, fmt.Errorf("%w: signed_tx is required", ErrInvalidInput)
	}
	signer, err := chain.NewPresignedSigner(rawTx, s.ChainID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return signer, nil
}

type PositionEntry struct {
	TokenID       string    `json:"token_id"`
	Tier          uint8     `json:"tier"`
	Difficulty    string    `json:"difficulty"`
	StakedAt      time.Time `json:"staked_at"`
	LastClaimAt   time.Time `json:"last_claim_at"`
	PendingWei    string    `json:"pending_wei"`
	PendingTokens string    `json:"pending_tokens"`
}

type PositionView struct {
	Owner              string          `json:"owner"`
	Positions          []PositionEntry `json:"positions"`
	TotalPendingWei    string          `json:"total_pending_wei"`
	TotalPendingTokens string          `json:"total_pending_tokens"`
	Symbol             string          `json:"symbol"`
}

func (s *StakingService) format(amount *big.Int) string {
	return utils.FormatTokenAmount(amount, s.Ledger.Rates().Decimals())
}

// ensureFresh reloads owner's stakes unless they were read within SyncTTL.
func (s *StakingService) ensureFresh(ctx context.Context, owner common.Address) error {
	if at, ok := s.synced.Load(owner); ok && s.now().Sub(at.(time.Time)) < s.SyncTTL {
		return nil
	}
	return s.Refresh(ctx, owner)
}

// GetPosition returns owner's staked badges with pending rewards, reloading
// them from the chain when the mirror is older than SyncTTL.
func (s *StakingService) GetPosition(ctx context.Context, owner common.Address) (*PositionView, error) {
	if err := s.ensureFresh(ctx, owner); err != nil {
		return nil, err
	}
	now := s.now()
	rates := s.Ledger.Rates()
	view := &PositionView{Owner: owner.Hex(), Positions: []PositionEntry{}, Symbol: s.Symbol}
	total := new(big.Int)
	for _, p := range s.Ledger.Positions(owner) {
		pending := rates.Pending(p, now)
		total.Add(total, pending)
		view.Positions = append(view.Positions, PositionEntry{
			TokenID:       p.TokenID.String(),
			Tier:          uint8(p.Tier),
			Difficulty:    p.Tier.String(),
			StakedAt:      p.StakedAt,
			LastClaimAt:   p.LastClaimAt,
			PendingWei:    pending.String(),
			PendingTokens: s.format(pending),
		})
	}
	view.TotalPendingWei = total.String()
	view.TotalPendingTokens = s.format(total)
	return view, nil
}

// Refresh rebuilds owner's mirrored positions from the staking contract.
func (s *StakingService) Refresh(ctx context.Context, owner common.Address) error {
	if !s.Chain.StakingConfigured() {
		s.synced.Store(owner, s.now())
		return nil
	}
	ids, err := s.Chain.GetStakedTokens(ctx, owner)
	if err != nil {
		metrics.IncChainError("get_staked_tokens")
		return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	positions := make([]staking.Position, 0, len(ids))
	for _, id := range ids {
		info, err := s.Chain.GetStake(ctx, id)
		if err != nil {
			metrics.IncChainError("get_stake")
			return fmt.Errorf("%w: stake %s: %v", ErrChainUnavailable, id, err)
		}
		positions = append(positions, s.fromChain(id, owner, info))
	}
	s.Ledger.ReplaceOwner(owner, positions)
	s.synced.Store(owner, s.now())
	log.Printf("🔄 [STAKING] Mirrored %d positions for %s", len(positions), owner.Hex())
	return nil
}

// fromChain converts a contract stake into a mirror position. The carried
// remainder survives a reload as long as no claim happened elsewhere.
func (s *StakingService) fromChain(id *big.Int, owner common.Address, info *chain.StakeInfo) staking.Position {
	p := staking.Position{
		TokenID:     id,
		Owner:       owner,
		Tier:        info.Tier,
		StakedAt:    info.StakedAt,
		LastClaimAt: info.LastClaimAt,
	}
	if old, ok := s.Ledger.Position(id); ok && old.Owner == owner && old.LastClaimAt.Equal(info.LastClaimAt) {
		p.Carry = old.Carry
	}
	return p
}

func (s *StakingService) PendingRewards(ctx context.Context, tokenID *big.Int) (*big.Int, error) {
	return s.Ledger.PendingRewards(tokenID, s.now())
}

func (s *StakingService) TotalPendingRewards(ctx context.Context, owner common.Address) (*big.Int, error) {
	if err := s.ensureFresh(ctx, owner); err != nil {
		return nil, err
	}
	return s.Ledger.TotalPendingRewards(owner, s.now()), nil
}

type StakingReceipt struct {
	TxHash   string `json:"tx_hash"`
	TokenID  string `json:"token_id,omitempty"`
	Tier     uint8  `json:"tier,omitempty"`
	PaidWei  string `json:"paid_wei,omitempty"`
	PaidText string `json:"paid_tokens,omitempty"`
}

func (s *StakingService) ownsBadge(ctx context.Context, owner common.Address, tokenID *big.Int) (bool, error) {
	ids, err := s.Chain.GetBadgesOf(ctx, owner)
	if err != nil {
		metrics.IncChainError("get_badges_of")
		return false, fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	}
	for _, id := range ids {
		if id.Cmp(tokenID) == 0 {
			return true, nil
		}
	}
	return false, nil
}

func (s *StakingService) Stake(ctx context.Context, signer chain.Signer, tokenID *big.Int, tier staking.Tier) (receipt *StakingReceipt, err error) {
	defer func() { metrics.IncStaking("stake", err) }()
	if tokenID == nil || tokenID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: token id", ErrInvalidInput)
	}
	if !tier.Valid() {
		return nil, staking.ErrInvalidTier
	}
	owner := signer.Address()
	if err := s.Refresh(ctx, owner); err != nil {
		return nil, err
	}
	if _, staked := s.Ledger.Position(tokenID); staked {
		return nil, staking.ErrAlreadyStaked
	}
	ok, err := s.ownsBadge(ctx, owner, tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, chain.ErrTokenNotOwned
	}

	tx, err := s.Chain.Stake(ctx, signer, tokenID, tier)
	if err != nil {
		return nil, err
	}
	if lerr := s.Ledger.Stake(owner, tokenID, tier, s.now()); lerr != nil {
		log.Printf("⚠️ [STAKING] Mirror out of date after stake %s: %v", tokenID, lerr)
		s.synced.Delete(owner)
	}
	log.Printf("🔒 [STAKING] %s staked token %s at %s (tx %s)", owner.Hex(), tokenID, tier, tx.TxHash)
	return &StakingReceipt{TxHash: tx.TxHash, TokenID: tokenID.String(), Tier: uint8(tier)}, nil
}

// checkStaked reloads owner's stakes and verifies owner holds tokenID. A
// token missing from the reload is looked up directly before rejecting.
func (s *StakingService) checkStaked(ctx context.Context, owner common.Address, tokenID *big.Int) error {
	if tokenID == nil || tokenID.Sign() <= 0 {
		return fmt.Errorf("%w: token id", ErrInvalidInput)
	}
	if err := s.Refresh(ctx, owner); err != nil {
		return err
	}
	p, ok := s.Ledger.Position(tokenID)
	if !ok {
		if !s.Chain.StakingConfigured() {
			return staking.ErrNotStaked
		}
		info, err := s.Chain.GetStake(ctx, tokenID)
		if errors.Is(err, staking.ErrNotStaked) {
			return staking.ErrNotStaked
		}
		if err != nil {
			metrics.IncChainError("get_stake")
			return fmt.Errorf("%w: stake %s: %v", ErrChainUnavailable, tokenID, err)
		}
		if info.Owner == (common.Address{}) {
			return staking.ErrNotStaked
		}
		p = s.fromChain(tokenID, info.Owner, info)
		if p.Owner == owner {
			s.Ledger.ReplaceOwner(owner, append(s.Ledger.Positions(owner), p))
		}
	}
	if p.Owner != owner {
		return staking.ErrNotOwner
	}
	return nil
}

func (s *StakingService) Unstake(ctx context.Context, signer chain.Signer, tokenID *big.Int) (receipt *StakingReceipt, err error) {
	defer func() { metrics.IncStaking("unstake", err) }()
	owner := signer.Address()
	if err := s.checkStaked(ctx, owner, tokenID); err != nil {
		return nil, err
	}
	tx, err := s.Chain.Unstake(ctx, signer, tokenID)
	if err != nil {
		return nil, err
	}
	paid, lerr := s.Ledger.Unstake(owner, tokenID, s.now())
	if lerr != nil {
		s.synced.Delete(owner)
		paid = new(big.Int)
	}
	log.Printf("🔓 [STAKING] %s unstaked token %s, paid %s %s", owner.Hex(), tokenID, s.format(paid), s.Symbol)
	return &StakingReceipt{TxHash: tx.TxHash, TokenID: tokenID.String(), PaidWei: paid.String(), PaidText: s.format(paid)}, nil
}

func (s *StakingService) Claim(ctx context.Context, signer chain.Signer, tokenID *big.Int) (receipt *StakingReceipt, err error) {
	defer func() { metrics.IncStaking("claim", err) }()
	owner := signer.Address()
	if err := s.checkStaked(ctx, owner, tokenID); err != nil {
		return nil, err
	}
	tx, err := s.Chain.ClaimRewards(ctx, signer, tokenID)
	if err != nil {
		return nil, err
	}
	paid, lerr := s.Ledger.Claim(owner, tokenID, s.now())
	if lerr != nil {
		s.synced.Delete(owner)
		paid = new(big.Int)
	}
	log.Printf("💰 [STAKING] %s claimed %s %s on token %s", owner.Hex(), s.format(paid), s.Symbol, tokenID)
	return &StakingReceipt{TxHash: tx.TxHash, TokenID: tokenID.String(), PaidWei: paid.String(), PaidText: s.format(paid)}, nil
}

func (s *StakingService) ClaimAll(ctx context.Context, signer chain.Signer) (receipt *StakingReceipt, err error) {
	defer func() { metrics.IncStaking("claim_all", err) }()
	owner := signer.Address()
	if err := s.Refresh(ctx, owner); err != nil {
		return nil, err
	}
	if len(s.Ledger.StakedTokens(owner)) == 0 {
		return nil, staking.ErrNotStaked
	}
	tx, err := s.Chain.ClaimAllRewards(ctx, signer)
	if err != nil {
		return nil, err
	}
	paid, lerr := s.Ledger.ClaimAll(owner, s.now())
	if lerr != nil {
		s.synced.Delete(owner)
		paid = new(big.Int)
	}
	log.Printf("💰 [STAKING] %s claimed %s %s across all stakes", owner.Hex(), s.format(paid), s.Symbol)
	return &StakingReceipt{TxHash: tx.TxHash, PaidWei: paid.String(), PaidText: s.format(paid)}, nil
}

// IsStakingError reports whether err is a caller-side staking rule violation.
func IsStakingError(err error) bool {
	return errors.Is(err, staking.ErrInvalidTier) ||
		errors.Is(err, staking.ErrAlreadyStaked) ||
		errors.Is(err, staking.ErrNotStaked) ||
		errors.Is(err, staking.ErrNotOwner) ||
		errors.Is(err, chain.ErrTokenNotOwned) ||
		errors.Is(err, chain.ErrSignerMismatch)
}
