package services

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"proof-badge-system/chain"
	"proof-badge-system/config"
	"proof-badge-system/database"
	"proof-badge-system/models"
	"proof-badge-system/staking"

	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "badges.db") + "?_busy_timeout=5000",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock { return &testClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

const testWallet = "0xAbC0000000000000000000000000000000001234"

type fixture struct {
	db       *gorm.DB
	sim      *chain.Simulator
	clock    *testClock
	issuer   *Issuer
	reviewer *Reviewer
	recon    *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	clock := newTestClock()
	sim := chain.NewSimulator(staking.DefaultRateTable(), clock.Now)
	issuer := NewIssuer(db, sim, IssuerOptions{
		Issuance: config.IssuanceConfig{
			Brand:        "PROVELT",
			Platform:     "PROVELT",
			NetworkLabel: "Mantle Sepolia",
			DefaultImage: "https://example.com/badge.png",
		},
		BadgeContract: sim.BadgeAddress.Hex(),
		MintTimeout:   2 * time.Second,
		Clock:         clock.Now,
	})
	identity := NewIdentityResolver(db)
	return &fixture{
		db:       db,
		sim:      sim,
		clock:    clock,
		issuer:   issuer,
		reviewer: NewReviewer(db, identity, issuer, nil, func(h string) string { return "https://explorer.test/tx/" + h }, clock.Now),
		recon:    NewReconciler(db, issuer, identity, clock.Now),
	}
}

func strPtr(s string) *string { return &s }

func seedChallenge(t *testing.T, db *gorm.DB, id string, points int64, difficulty models.Difficulty) *models.Challenge {
	t.Helper()
	ch := &models.Challenge{ID: id, Title: "Morning Run " + id, Category: "fitness", Difficulty: difficulty, Points: points, IsActive: true}
	if err := db.Create(ch).Error; err != nil {
		t.Fatalf("seed challenge: %v", err)
	}
	return ch
}

func seedProfile(t *testing.T, db *gorm.DB, id, wallet string) *models.Profile {
	t.Helper()
	p := &models.Profile{ID: id, Username: id}
	if wallet != "" {
		p.WalletAddress = strPtr(wallet)
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	return p
}

func seedSubmission(t *testing.T, db *gorm.DB, userID, challengeID string) *models.Submission {
	t.Helper()
	sub := &models.Submission{UserID: userID, ChallengeID: challengeID, ProofMedia: "https://cdn.test/proof.jpg"}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("seed submission: %v", err)
	}
	return sub
}

func loadSubmission(t *testing.T, db *gorm.DB, id string) models.Submission {
	t.Helper()
	var sub models.Submission
	if err := db.First(&sub, "id = ?", id).Error; err != nil {
		t.Fatalf("load submission: %v", err)
	}
	return sub
}

func loadProfile(t *testing.T, db *gorm.DB, id string) models.Profile {
	t.Helper()
	var p models.Profile
	if err := db.First(&p, "id = ?", id).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	return p
}

func countBadges(t *testing.T, db *gorm.DB, submissionID string) int64 {
	t.Helper()
	var n int64
	db.Model(&models.BadgeRecord{}).Where("submission_id = ?", submissionID).Count(&n)
	return n
}
