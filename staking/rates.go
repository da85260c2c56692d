package staking

import (
	"fmt"
	"math/big"
	"time"
)

const SecondsPerDay = 86400

// Tier is the difficulty tier a badge is staked at.
type Tier uint8

const (
	TierEasy   Tier = 1
	TierMedium Tier = 2
	TierHard   Tier = 3
	TierExpert Tier = 4
)

var tierNames = [...]string{"", "easy", "medium", "hard", "expert"}

func (t Tier) Valid() bool { return t >= TierEasy && t <= TierExpert }

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tier(%d)", uint8(t))
	}
	return tierNames[t]
}

// RateTable holds the daily yield per tier in the reward token's smallest unit.
// A table is immutable once built.
type RateTable struct {
	daily    [5]*big.Int
	decimals int32
}

// NewRateTable builds a table from whole-token daily yields for tiers 1..4.
func NewRateTable(dailyTokens []int64, decimals int32) (*RateTable, error) {
	if len(dailyTokens) != 4 {
		return nil, fmt.Errorf("need 4 daily yields, got %d", len(dailyTokens))
	}
	if decimals < 0 || decimals > 36 {
		return nil, fmt.Errorf("unsupported token decimals %d", decimals)
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rt := &RateTable{decimals: decimals, daily: [5]*big.Int{new(big.Int)}}
	for i, y := range dailyTokens {
		if y < 0 {
			return nil, fmt.Errorf("negative daily yield for tier %d", i+1)
		}
		rt.daily[i+1] = new(big.Int).Mul(big.NewInt(y), unit)
	}
	return rt, nil
}

// DefaultRateTable is 1/3/5/10 tokens per day at 18 decimals.
func DefaultRateTable() *RateTable {
	rt, _ := NewRateTable([]int64{1, 3, 5, 10}, 18)
	return rt
}

func (r *RateTable) Decimals() int32 { return r.decimals }

// Daily returns a copy of the daily yield for a tier.
func (r *RateTable) Daily(t Tier) (*big.Int, error) {
	if !t.Valid() {
		return nil, ErrInvalidTier
	}
	return new(big.Int).Set(r.daily[t]), nil
}

// Accrue returns the reward for elapsed seconds at tier t together with the
// sub-unit remainder to carry into the next accrual. Carrying the remainder
// makes any split of the same interval pay out exactly the same total.
func (r *RateTable) Accrue(t Tier, elapsedSeconds int64, carry *big.Int) (reward, remainder *big.Int) {
	if !t.Valid() || elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	num := new(big.Int).Mul(big.NewInt(elapsedSeconds), r.dailyOrZero(t))
	if carry != nil {
		num.Add(num, carry)
	}
	reward, remainder = new(big.Int), new(big.Int)
	reward.QuoRem(num, big.NewInt(SecondsPerDay), remainder)
	return reward, remainder
}

// Pending is the unclaimed reward of p at now. It never mutates p.
func (r *RateTable) Pending(p Position, now time.Time) *big.Int {
	reward, _ := r.Accrue(p.Tier, elapsed(p.LastClaimAt, now), p.Carry)
	return reward
}

func (r *RateTable) dailyOrZero(t Tier) *big.Int {
	if !t.Valid() {
		return new(big.Int)
	}
	return r.daily[t]
}

func elapsed(from, to time.Time) int64 {
	d := to.Unix() - from.Unix()
	if d < 0 {
		return 0
	}
	return d
}
