package staking

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestLedgerLifecycle(t *testing.T) {
	l := NewLedger(DefaultRateTable())
	t0 := time.Unix(1_700_000_000, 0)
	id := big.NewInt(7)

	if err := l.Stake(alice, id, TierMedium, t0); err != nil {
		t.Fatalf("stake: %v", err)
	}
	if err := l.Stake(alice, id, TierMedium, t0); !errors.Is(err, ErrAlreadyStaked) {
		t.Fatalf("second stake err = %v, want ErrAlreadyStaked", err)
	}

	day := t0.Add(SecondsPerDay * time.Second)
	pending, err := l.PendingRewards(id, day)
	if err != nil || pending.Cmp(tokens(3)) != 0 {
		t.Fatalf("pending = %v, %v; want 3 tokens", pending, err)
	}

	if _, err := l.Claim(bob, id, day); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("claim by non-owner err = %v, want ErrNotOwner", err)
	}
	paid, err := l.Claim(alice, id, day)
	if err != nil || paid.Cmp(tokens(3)) != 0 {
		t.Fatalf("claim = %v, %v; want 3 tokens", paid, err)
	}
	pending, _ = l.PendingRewards(id, day)
	if pending.Sign() != 0 {
		t.Fatalf("pending after claim = %s, want 0", pending)
	}
	pos, _ := l.Position(id)
	if !pos.StakedAt.Equal(t0) {
		t.Fatalf("claim moved stakedAt to %v", pos.StakedAt)
	}

	later := day.Add(SecondsPerDay / 2 * time.Second)
	paid, err = l.Unstake(alice, id, later)
	if err != nil {
		t.Fatalf("unstake: %v", err)
	}
	want := new(big.Int).Div(tokens(3), big.NewInt(2))
	if paid.Cmp(want) != 0 {
		t.Fatalf("unstake paid %s, want %s", paid, want)
	}
	if ids := l.StakedTokens(alice); len(ids) != 0 {
		t.Fatalf("staked tokens after unstake = %v", ids)
	}
	if _, err := l.Unstake(alice, id, later); !errors.Is(err, ErrNotStaked) {
		t.Fatalf("double unstake err = %v, want ErrNotStaked", err)
	}
}

func TestLedgerRejectsInvalidTier(t *testing.T) {
	l := NewLedger(DefaultRateTable())
	if err := l.Stake(alice, big.NewInt(1), Tier(0), time.Now()); !errors.Is(err, ErrInvalidTier) {
		t.Fatalf("err = %v, want ErrInvalidTier", err)
	}
}

func TestClaimAllAndTotals(t *testing.T) {
	l := NewLedger(DefaultRateTable())
	t0 := time.Unix(1_700_000_000, 0)
	_ = l.Stake(alice, big.NewInt(1), TierEasy, t0)
	_ = l.Stake(alice, big.NewInt(2), TierExpert, t0)
	_ = l.Stake(bob, big.NewInt(3), TierHard, t0)

	day := t0.Add(SecondsPerDay * time.Second)
	if got := l.TotalPendingRewards(alice, day); got.Cmp(tokens(11)) != 0 {
		t.Fatalf("alice total = %s, want 11 tokens", got)
	}
	paid, err := l.ClaimAll(alice, day)
	if err != nil || paid.Cmp(tokens(11)) != 0 {
		t.Fatalf("claim all = %v, %v", paid, err)
	}
	if got := l.TotalPendingRewards(bob, day); got.Cmp(tokens(5)) != 0 {
		t.Fatalf("bob total changed to %s", got)
	}
	ids := l.StakedTokens(alice)
	if len(ids) != 2 || ids[0].Int64() != 1 || ids[1].Int64() != 2 {
		t.Fatalf("staked tokens = %v", ids)
	}
}

func TestReplaceOwner(t *testing.T) {
	l := NewLedger(DefaultRateTable())
	t0 := time.Unix(1_700_000_000, 0)
	_ = l.Stake(alice, big.NewInt(1), TierEasy, t0)
	_ = l.Stake(bob, big.NewInt(2), TierEasy, t0)

	l.ReplaceOwner(alice, []Position{{TokenID: big.NewInt(9), Tier: TierHard, StakedAt: t0, LastClaimAt: t0}})

	if _, ok := l.Position(big.NewInt(1)); ok {
		t.Error("stale position survived refresh")
	}
	if p, ok := l.Position(big.NewInt(9)); !ok || p.Owner != alice || p.Carry == nil {
		t.Errorf("refreshed position = %+v, %v", p, ok)
	}
	if _, ok := l.Position(big.NewInt(2)); !ok {
		t.Error("other owner's position was dropped")
	}
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	l := NewLedger(DefaultRateTable())
	t0 := time.Unix(1_700_000_000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = l.Stake(alice, big.NewInt(int64(i)), TierMedium, t0)
		}(i)
		go func() {
			defer wg.Done()
			_ = l.TotalPendingRewards(alice, t0.Add(time.Hour))
		}()
	}
	wg.Wait()

	if n := len(l.StakedTokens(alice)); n != 50 {
		t.Fatalf("staked %d tokens, want 50", n)
	}
}
