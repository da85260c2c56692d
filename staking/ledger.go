package staking

import (
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position mirrors one on-chain stake. Values are treated as immutable once
// stored in a Ledger; transitions store a fresh copy.
type Position struct {
	TokenID     *big.Int
	Owner       common.Address
	Tier        Tier
	StakedAt    time.Time
	LastClaimAt time.Time
	Carry       *big.Int
}

type snapshot struct {
	positions map[string]Position
}

// Ledger is the in-process mirror of stake positions. Reads load an immutable
// snapshot without locking; writes copy the snapshot under mu and swap it in.
type Ledger struct {
	rates *RateTable
	mu    sync.Mutex
	snap  atomic.Pointer[snapshot]
}

func NewLedger(rates *RateTable) *Ledger {
	l := &Ledger{rates: rates}
	l.snap.Store(&snapshot{positions: map[string]Position{}})
	return l
}

func (l *Ledger) Rates() *RateTable { return l.rates }

func key(tokenID *big.Int) string { return tokenID.String() }

// Position returns the stake for tokenID if it is staked.
func (l *Ledger) Position(tokenID *big.Int) (Position, bool) {
	p, ok := l.snap.Load().positions[key(tokenID)]
	return p, ok
}

// StakedTokens lists owner's staked token ids in ascending order.
func (l *Ledger) StakedTokens(owner common.Address) []*big.Int {
	var ids []*big.Int
	for _, p := range l.snap.Load().positions {
		if p.Owner == owner {
			ids = append(ids, new(big.Int).Set(p.TokenID))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })
	return ids
}

// Positions lists owner's stakes ordered by token id.
func (l *Ledger) Positions(owner common.Address) []Position {
	var out []Position
	for _, p := range l.snap.Load().positions {
		if p.Owner == owner {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID.Cmp(out[j].TokenID) < 0 })
	return out
}

func (l *Ledger) PendingRewards(tokenID *big.Int, now time.Time) (*big.Int, error) {
	p, ok := l.Position(tokenID)
	if !ok {
		return nil, ErrNotStaked
	}
	return l.rates.Pending(p, now), nil
}

func (l *Ledger) TotalPendingRewards(owner common.Address, now time.Time) *big.Int {
	total := new(big.Int)
	for _, p := range l.Positions(owner) {
		total.Add(total, l.rates.Pending(p, now))
	}
	return total
}

// update runs fn on a private copy of the positions map and publishes it.
func (l *Ledger) update(fn func(m map[string]Position) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.snap.Load().positions
	next := make(map[string]Position, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	if err := fn(next); err != nil {
		return err
	}
	l.snap.Store(&snapshot{positions: next})
	return nil
}

// Stake opens a position with stakedAt = lastClaimAt = now.
func (l *Ledger) Stake(owner common.Address, tokenID *big.Int, tier Tier, now time.Time) error {
	if !tier.Valid() {
		return ErrInvalidTier
	}
	return l.update(func(m map[string]Position) error {
		if _, ok := m[key(tokenID)]; ok {
			return ErrAlreadyStaked
		}
		m[key(tokenID)] = Position{
			TokenID:     new(big.Int).Set(tokenID),
			Owner:       owner,
			Tier:        tier,
			StakedAt:    now,
			LastClaimAt: now,
			Carry:       new(big.Int),
		}
		return nil
	})
}

// Claim pays out the pending reward and restarts the accrual clock. StakedAt
// and custody are unchanged.
func (l *Ledger) Claim(owner common.Address, tokenID *big.Int, now time.Time) (*big.Int, error) {
	var paid *big.Int
	err := l.update(func(m map[string]Position) error {
		p, err := owned(m, owner, tokenID)
		if err != nil {
			return err
		}
		var carry *big.Int
		paid, carry = l.rates.Accrue(p.Tier, elapsed(p.LastClaimAt, now), p.Carry)
		p.LastClaimAt = now
		p.Carry = carry
		m[key(tokenID)] = p
		return nil
	})
	return paid, err
}

// ClaimAll claims every position owner has staked.
func (l *Ledger) ClaimAll(owner common.Address, now time.Time) (*big.Int, error) {
	total := new(big.Int)
	err := l.update(func(m map[string]Position) error {
		for k, p := range m {
			if p.Owner != owner {
				continue
			}
			reward, carry := l.rates.Accrue(p.Tier, elapsed(p.LastClaimAt, now), p.Carry)
			total.Add(total, reward)
			p.LastClaimAt = now
			p.Carry = carry
			m[k] = p
		}
		return nil
	})
	return total, err
}

// Unstake pays out the pending reward and removes the position.
func (l *Ledger) Unstake(owner common.Address, tokenID *big.Int, now time.Time) (*big.Int, error) {
	var paid *big.Int
	err := l.update(func(m map[string]Position) error {
		p, err := owned(m, owner, tokenID)
		if err != nil {
			return err
		}
		paid, _ = l.rates.Accrue(p.Tier, elapsed(p.LastClaimAt, now), p.Carry)
		delete(m, key(tokenID))
		return nil
	})
	return paid, err
}

// ReplaceOwner swaps every position of owner for the given set, as read back
// from the chain.
func (l *Ledger) ReplaceOwner(owner common.Address, positions []Position) {
	_ = l.update(func(m map[string]Position) error {
		for k, p := range m {
			if p.Owner == owner {
				delete(m, k)
			}
		}
		for _, p := range positions {
			if p.Carry == nil {
				p.Carry = new(big.Int)
			}
			p.Owner = owner
			m[key(p.TokenID)] = p
		}
		return nil
	})
}

func owned(m map[string]Position, owner common.Address, tokenID *big.Int) (Position, error) {
	p, ok := m[key(tokenID)]
	if !ok {
		return Position{}, ErrNotStaked
	}
	if p.Owner != owner {
		return Position{}, ErrNotOwner
	}
	return p, nil
}
