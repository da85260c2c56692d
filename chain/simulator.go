package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"proof-badge-system/staking"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Simulator is an in-memory Gateway for local development and tests. It keeps
// badge ownership, staking custody and reward balances, and can be told to
// fail or stall mint calls.
type Simulator struct {
	BadgeAddress   common.Address
	StakingAddress common.Address

	badgeABI   abi.ABI
	stakingABI abi.ABI
	ledger     *staking.Ledger
	now        func() time.Time
	dispatcher *Dispatcher

	mu         sync.Mutex
	configured bool
	nextToken  int64
	txCount    uint64
	owners     map[string]common.Address
	challenges map[string]*big.Int
	balances   map[common.Address]*big.Int
	mintErr    error
	mintDelay  time.Duration
	mints      int
}

func NewSimulator(rates *staking.RateTable, now func() time.Time) *Simulator {
	if now == nil {
		now = time.Now
	}
	badgeABI, err := abi.JSON(strings.NewReader(BadgeContractABI))
	if err != nil {
		panic(err)
	}
	stakingABI, err := abi.JSON(strings.NewReader(StakingContractABI))
	if err != nil {
		panic(err)
	}
	return &Simulator{
		BadgeAddress:   common.HexToAddress("0x00000000000000000000000000000000000bad9e"),
		StakingAddress: common.HexToAddress("0x000000000000000000000000000000000005a7e0"),
		badgeABI:       badgeABI,
		stakingABI:     stakingABI,
		ledger:         staking.NewLedger(rates),
		now:            now,
		dispatcher:     NewDispatcher(),
		configured:     true,
		nextToken:      1,
		owners:         make(map[string]common.Address),
		challenges:     make(map[string]*big.Int),
		balances:       make(map[common.Address]*big.Int),
	}
}

// SetConfigured toggles whether the simulator reports itself as a usable mint target.
func (s *Simulator) SetConfigured(ok bool) {
	s.mu.Lock()
	s.configured = ok
	s.mu.Unlock()
}

// FailMints makes every MintBadge call return err until cleared with nil.
func (s *Simulator) FailMints(err error) {
	s.mu.Lock()
	s.mintErr = err
	s.mu.Unlock()
}

// DelayMints makes MintBadge block for d or until its context ends.
func (s *Simulator) DelayMints(d time.Duration) {
	s.mu.Lock()
	s.mintDelay = d
	s.mu.Unlock()
}

func (s *Simulator) MintCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mints
}

// RewardBalance is the reward token balance paid out to owner.
func (s *Simulator) RewardBalance(owner common.Address) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// GiveBadge mints directly to owner, bypassing the treasury path.
func (s *Simulator) GiveBadge(owner common.Address, challengeIDHash *big.Int) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintLocked(owner, challengeIDHash)
}

func (s *Simulator) mintLocked(owner common.Address, challengeIDHash *big.Int) *big.Int {
	id := big.NewInt(s.nextToken)
	s.nextToken++
	s.owners[id.String()] = owner
	s.challenges[id.String()] = new(big.Int).Set(challengeIDHash)
	s.mints++
	return id
}

func (s *Simulator) txHash() string {
	s.txCount++
	return crypto.Keccak256Hash(big.NewInt(int64(s.txCount)).Bytes(), []byte("sim")).Hex()
}

func (s *Simulator) Configured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

func (s *Simulator) StakingConfigured() bool { return true }

func (s *Simulator) MintBadge(ctx context.Context, req MintRequest) (*MintReceipt, error) {
	s.mu.Lock()
	delay, failure, configured := s.mintDelay, s.mintErr, s.configured
	s.mu.Unlock()

	if !configured {
		return nil, ErrNotConfigured
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.mintLocked(req.To, req.ChallengeIDHash)
	return &MintReceipt{TxHash: s.txHash(), TokenID: id, BlockNumber: s.txCount}, nil
}

func (s *Simulator) GetBadgesOf(ctx context.Context, owner common.Address) ([]*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []*big.Int
	for k, o := range s.owners {
		if o == owner {
			id, _ := new(big.Int).SetString(k, 10)
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })
	return ids, nil
}

func (s *Simulator) HasChallengeBadge(ctx context.Context, owner common.Address, challengeIDHash *big.Int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, o := range s.owners {
		holder := o
		if o == s.StakingAddress {
			if p, ok := s.ledger.Position(mustBig(k)); ok {
				holder = p.Owner
			}
		}
		if holder == owner && s.challenges[k].Cmp(challengeIDHash) == 0 {
			return true, nil
		}
	}
	return false, nil
}

// authorize runs the signer against the calldata a real client would send, so
// presigned transactions are checked the same way as on a live chain.
func (s *Simulator) authorize(ctx context.Context, signer Signer, method string, args ...interface{}) error {
	data, err := s.stakingABI.Pack(method, args...)
	if err != nil {
		return err
	}
	_, err = s.dispatcher.Send(ctx, signer, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		nonce := uint64(0)
		if opts.Nonce != nil {
			nonce = opts.Nonce.Uint64()
		}
		to := s.StakingAddress
		unsigned := types.NewTx(&types.LegacyTx{Nonce: nonce, To: &to, Gas: opts.GasLimit, GasPrice: big.NewInt(0), Data: data})
		return opts.Signer(signer.Address(), unsigned)
	})
	return err
}

func (s *Simulator) Stake(ctx context.Context, signer Signer, tokenID *big.Int, tier staking.Tier) (*TxReceipt, error) {
	if !tier.Valid() {
		return nil, staking.ErrInvalidTier
	}
	if err := s.authorize(ctx, signer, "stake", tokenID, uint8(tier)); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.owners[tokenID.String()]
	if ok && owner == s.StakingAddress {
		return nil, staking.ErrAlreadyStaked
	}
	if !ok || owner != signer.Address() {
		return nil, ErrTokenNotOwned
	}
	if err := s.ledger.Stake(signer.Address(), tokenID, tier, s.now()); err != nil {
		return nil, err
	}
	s.owners[tokenID.String()] = s.StakingAddress
	return &TxReceipt{TxHash: s.txHash(), BlockNumber: s.txCount}, nil
}

func (s *Simulator) Unstake(ctx context.Context, signer Signer, tokenID *big.Int) (*TxReceipt, error) {
	if err := s.authorize(ctx, signer, "unstake", tokenID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	paid, err := s.ledger.Unstake(signer.Address(), tokenID, s.now())
	if err != nil {
		return nil, err
	}
	s.creditLocked(signer.Address(), paid)
	s.owners[tokenID.String()] = signer.Address()
	return &TxReceipt{TxHash: s.txHash(), BlockNumber: s.txCount}, nil
}

func (s *Simulator) ClaimRewards(ctx context.Context, signer Signer, tokenID *big.Int) (*TxReceipt, error) {
	if err := s.authorize(ctx, signer, "claimRewards", tokenID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	paid, err := s.ledger.Claim(signer.Address(), tokenID, s.now())
	if err != nil {
		return nil, err
	}
	s.creditLocked(signer.Address(), paid)
	return &TxReceipt{TxHash: s.txHash(), BlockNumber: s.txCount}, nil
}

func (s *Simulator) ClaimAllRewards(ctx context.Context, signer Signer) (*TxReceipt, error) {
	if err := s.authorize(ctx, signer, "claimAllRewards"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	paid, err := s.ledger.ClaimAll(signer.Address(), s.now())
	if err != nil {
		return nil, err
	}
	s.creditLocked(signer.Address(), paid)
	return &TxReceipt{TxHash: s.txHash(), BlockNumber: s.txCount}, nil
}

func (s *Simulator) creditLocked(owner common.Address, amount *big.Int) {
	b, ok := s.balances[owner]
	if !ok {
		b = new(big.Int)
		s.balances[owner] = b
	}
	b.Add(b, amount)
}

func (s *Simulator) PendingRewards(ctx context.Context, tokenID *big.Int) (*big.Int, error) {
	return s.ledger.PendingRewards(tokenID, s.now())
}

func (s *Simulator) TotalPendingRewards(ctx context.Context, owner common.Address) (*big.Int, error) {
	return s.ledger.TotalPendingRewards(owner, s.now()), nil
}

func (s *Simulator) GetStakedTokens(ctx context.Context, owner common.Address) ([]*big.Int, error) {
	return s.ledger.StakedTokens(owner), nil
}

func (s *Simulator) GetStake(ctx context.Context, tokenID *big.Int) (*StakeInfo, error) {
	p, ok := s.ledger.Position(tokenID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", staking.ErrNotStaked, tokenID)
	}
	return &StakeInfo{Owner: p.Owner, StakedAt: p.StakedAt, LastClaimAt: p.LastClaimAt, Tier: p.Tier}, nil
}

func mustBig(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}
