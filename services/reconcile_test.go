package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"proof-badge-system/chain"
	"proof-badge-system/models"

	"github.com/ethereum/go-ethereum/common"
)

func TestRecomputeRestoresCounters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedChallenge(t, f.db, "ch-1", 50, models.DifficultyEasy)
	seedChallenge(t, f.db, "ch-2", 30, models.DifficultyHard)
	seedProfile(t, f.db, "user-1", testWallet)
	for _, ch := range []string{"ch-1", "ch-2"} {
		sub := seedSubmission(t, f.db, "user-1", ch)
		if _, err := f.reviewer.Decide(ctx, approve(sub.ID)); err != nil {
			t.Fatal(err)
		}
	}
	f.db.Model(&models.Profile{}).Where("id = ?", "user-1").
		UpdateColumns(map[string]interface{}{"total_points": 999, "badges_count": 7})

	totals, err := f.recon.Recompute(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if !totals.Changed || totals.TotalPoints != 80 || totals.BadgesCount != 2 {
		t.Fatalf("totals = %+v", totals)
	}
	if p := loadProfile(t, f.db, "user-1"); p.TotalPoints != 80 || p.BadgesCount != 2 {
		t.Fatalf("profile = %+v", p)
	}

	again, err := f.recon.Recompute(ctx, "user-1")
	if err != nil || again.Changed {
		t.Fatalf("second recompute = %+v, %v", again, err)
	}

	if _, err := f.recon.Recompute(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestRecomputeChallengesAndAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedChallenge(t, f.db, "ch-1", 50, models.DifficultyEasy)
	seedProfile(t, f.db, "user-1", testWallet)
	seedProfile(t, f.db, "user-2", "")
	sub := seedSubmission(t, f.db, "user-1", "ch-1")
	if _, err := f.reviewer.Decide(ctx, approve(sub.ID)); err != nil {
		t.Fatal(err)
	}
	f.db.Model(&models.Challenge{}).Where("id = ?", "ch-1").UpdateColumn("completions_count", 12)
	f.db.Model(&models.Profile{}).Where("id = ?", "user-2").UpdateColumn("total_points", 5)

	report, err := f.recon.RecomputeChallenges(ctx)
	if err != nil || report.Changed != 1 {
		t.Fatalf("challenges report = %+v, %v", report, err)
	}
	var ch models.Challenge
	f.db.First(&ch, "id = ?", "ch-1")
	if ch.CompletionsCount != 1 {
		t.Fatalf("completions = %d", ch.CompletionsCount)
	}

	all, err := f.recon.RecomputeAll(ctx)
	if err != nil || all.Scanned != 2 || all.Changed != 1 {
		t.Fatalf("profiles report = %+v, %v", all, err)
	}
}

func TestBackfillBadges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedChallenge(t, f.db, "ch-1", 20, models.DifficultyEasy)
	seedProfile(t, f.db, "user-1", testWallet)
	sub := seedSubmission(t, f.db, "user-1", "ch-1")
	f.db.Model(&models.Submission{}).Where("id = ?", sub.ID).Update("status", models.StatusApproved)

	report, err := f.recon.BackfillBadges(ctx)
	if err != nil || report.Changed != 1 {
		t.Fatalf("report = %+v, %v", report, err)
	}
	var rec models.BadgeRecord
	if err := f.db.First(&rec, "submission_id = ?", sub.ID).Error; err != nil {
		t.Fatal(err)
	}
	if rec.Mode != models.ModeDegraded || !rec.HasPlaceholderTx() || rec.WalletAddress != testWallet {
		t.Fatalf("record = %+v", rec)
	}
	if p := loadProfile(t, f.db, "user-1"); p.TotalPoints != 20 || p.BadgesCount != 1 {
		t.Fatalf("profile = %+v", p)
	}

	again, err := f.recon.BackfillBadges(ctx)
	if err != nil || again.Scanned != 0 {
		t.Fatalf("second backfill = %+v, %v", again, err)
	}
}

func TestFinalizeStalledReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ch := seedChallenge(t, f.db, "ch-1", 15, models.DifficultyEasy)
	seedProfile(t, f.db, "user-1", testWallet)
	sub := seedSubmission(t, f.db, "user-1", "ch-1")

	rec, _, err := f.issuer.draft(sub, ch, testWallet, f.clock.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	rec.CreatedAt = f.clock.Now().Add(-time.Hour)
	if err := f.db.Create(rec).Error; err != nil {
		t.Fatal(err)
	}

	report, err := f.recon.FinalizeStalled(ctx, 10*time.Minute)
	if err != nil || report.Changed != 1 {
		t.Fatalf("report = %+v, %v", report, err)
	}
	var got models.BadgeRecord
	f.db.First(&got, "id = ?", rec.ID)
	if got.Mode != models.ModeDegraded || !strings.HasPrefix(got.TxSignature, models.PendingTxPrefix) {
		t.Fatalf("record = %+v", got)
	}
	if s := loadSubmission(t, f.db, sub.ID); s.Status != models.StatusApproved {
		t.Fatalf("status = %s", s.Status)
	}
	if p := loadProfile(t, f.db, "user-1"); p.TotalPoints != 15 || p.BadgesCount != 1 {
		t.Fatalf("profile = %+v", p)
	}
}

func TestFinalizeStalledIgnoresFreshReservations(t *testing.T) {
	f := newFixture(t)
	ch := seedChallenge(t, f.db, "ch-1", 15, models.DifficultyEasy)
	sub := seedSubmission(t, f.db, "user-1", "ch-1")
	rec, _, _ := f.issuer.draft(sub, ch, testWallet, f.clock.Now())
	rec.CreatedAt = f.clock.Now()
	f.db.Create(rec)

	report, err := f.recon.FinalizeStalled(context.Background(), 10*time.Minute)
	if err != nil || report.Scanned != 0 {
		t.Fatalf("report = %+v, %v", report, err)
	}
}

func degradedApproval(t *testing.T, f *fixture) *models.Submission {
	t.Helper()
	return degradedApprovalWith(t, f, errors.New("rpc down"))
}

func degradedApprovalWith(t *testing.T, f *fixture, failure error) *models.Submission {
	t.Helper()
	seedChallenge(t, f.db, "ch-1", 50, models.DifficultyEasy)
	seedProfile(t, f.db, "user-1", testWallet)
	sub := seedSubmission(t, f.db, "user-1", "ch-1")
	f.sim.FailMints(failure)
	res, err := f.reviewer.Decide(context.Background(), approve(sub.ID))
	if err != nil || !res.Issuance.Degraded {
		t.Fatalf("expected degraded approval, got %+v, %v", res, err)
	}
	f.sim.FailMints(nil)
	return sub
}

func TestUpgradeDegradedMints(t *testing.T) {
	f := newFixture(t)
	sub := degradedApproval(t, f)

	report, err := f.recon.UpgradeDegraded(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if report.Upgraded != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	var rec models.BadgeRecord
	f.db.First(&rec, "submission_id = ?", sub.ID)
	if rec.Mode != models.ModeOnChain || !strings.HasPrefix(rec.TxSignature, "0x") || rec.LastError != "" {
		t.Fatalf("record = %+v", rec)
	}
	if !VerifyProof(&rec) {
		t.Fatal("upgrade changed the proof commitment")
	}
	if s := loadSubmission(t, f.db, sub.ID); s.TxSignature == nil || *s.TxSignature != rec.TxSignature {
		t.Fatalf("submission tx = %v", s.TxSignature)
	}
	if f.sim.MintCount() != 1 {
		t.Fatalf("mints = %d", f.sim.MintCount())
	}
	stats, _ := f.recon.Stats(context.Background())
	if stats.Degraded != 0 || stats.OnChain != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestUpgradeSkipsBadgeAlreadyOnChain(t *testing.T) {
	f := newFixture(t)
	sub := degradedApproval(t, f)
	f.sim.GiveBadge(common.HexToAddress(testWallet), chain.ChallengeIDHash("ch-1"))

	report, err := f.recon.UpgradeDegraded(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if report.AlreadyOnChain != 1 || report.Upgraded != 0 {
		t.Fatalf("report = %+v", report)
	}
	if f.sim.MintCount() != 1 {
		t.Fatalf("mints = %d, want only the direct grant", f.sim.MintCount())
	}
	var rec models.BadgeRecord
	f.db.First(&rec, "submission_id = ?", sub.ID)
	if rec.Mode != models.ModeOnChain || !rec.HasPlaceholderTx() {
		t.Fatalf("record = %+v", rec)
	}
}

func TestUpgradeRequiresChain(t *testing.T) {
	f := newFixture(t)
	f.sim.SetConfigured(false)
	if _, err := f.recon.UpgradeDegraded(context.Background(), 10); !errors.Is(err, chain.ErrNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

var broadcastTx = "0x" + strings.Repeat("ab", 32)

func TestUpgradeStoresBroadcastHashOfHeldBadge(t *testing.T) {
	f := newFixture(t)
	sub := degradedApprovalWith(t, f, &chain.PendingTxError{TxHash: broadcastTx, Err: context.DeadlineExceeded})
	f.sim.GiveBadge(common.HexToAddress(testWallet), chain.ChallengeIDHash("ch-1"))

	report, err := f.recon.UpgradeDegraded(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if report.AlreadyOnChain != 1 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	var rec models.BadgeRecord
	f.db.First(&rec, "submission_id = ?", sub.ID)
	if rec.Mode != models.ModeOnChain || rec.TxSignature != broadcastTx || rec.LastError != "" {
		t.Fatalf("record = %+v", rec)
	}
	if s := loadSubmission(t, f.db, sub.ID); s.TxSignature == nil || *s.TxSignature != broadcastTx {
		t.Fatalf("submission tx = %v", s.TxSignature)
	}
}

func TestUpgradeKeepsHashOfUnindexedRemint(t *testing.T) {
	f := newFixture(t)
	sub := degradedApproval(t, f)
	ctx := context.Background()

	f.sim.FailMints(&chain.UnindexedMintError{TxHash: broadcastTx})
	report, err := f.recon.UpgradeDegraded(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}
	var rec models.BadgeRecord
	f.db.First(&rec, "submission_id = ?", sub.ID)
	if rec.Mode != models.ModeDegraded || rec.TxSignature != models.PendingTxPrefix+broadcastTx {
		t.Fatalf("record after unindexed remint = %+v", rec)
	}

	// The mint did land; the next pass sees the badge and records the hash.
	f.sim.FailMints(nil)
	f.sim.GiveBadge(common.HexToAddress(testWallet), chain.ChallengeIDHash("ch-1"))
	if report, err = f.recon.UpgradeDegraded(ctx, 10); err != nil || report.AlreadyOnChain != 1 {
		t.Fatalf("second pass = %+v, %v", report, err)
	}
	f.db.First(&rec, "submission_id = ?", sub.ID)
	if rec.Mode != models.ModeOnChain || rec.TxSignature != broadcastTx {
		t.Fatalf("record = %+v", rec)
	}
}

func TestUpgradeResolvesMissingWallet(t *testing.T) {
	f := newFixture(t)
	sub := degradedApproval(t, f)
	f.db.Model(&models.BadgeRecord{}).Where("submission_id = ?", sub.ID).UpdateColumn("wallet_address", "")

	report, err := f.recon.UpgradeDegraded(context.Background(), 10)
	if err != nil || report.Upgraded != 1 {
		t.Fatalf("report = %+v, %v", report, err)
	}
	var rec models.BadgeRecord
	f.db.First(&rec, "submission_id = ?", sub.ID)
	if !strings.EqualFold(rec.WalletAddress, testWallet) {
		t.Fatalf("wallet = %q", rec.WalletAddress)
	}
}

func TestRunReconcileReportsEveryStep(t *testing.T) {
	f := newFixture(t)
	if err := f.recon.runReconcile(context.Background()); err != nil {
		t.Fatalf("clean run: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.recon.runReconcile(ctx)
	if err == nil {
		t.Fatal("expected errors from a cancelled run")
	}
	for _, job := range []string{"backfill", "challenges", "profiles"} {
		if !strings.Contains(err.Error(), job) {
			t.Errorf("error %q does not mention %s", err, job)
		}
	}
}
