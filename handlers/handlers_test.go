package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"proof-badge-system/chain"
	"proof-badge-system/config"
	"proof-badge-system/database"
	"proof-badge-system/models"
	"proof-badge-system/services"
	"proof-badge-system/staking"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

const wallet = "0x5555555555555555555555555555555555555555"

type testApp struct {
	app *fiber.App
	db  *gorm.DB
	sim *chain.Simulator
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatal(err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	rates := staking.DefaultRateTable()
	sim := chain.NewSimulator(rates, nil)
	identity := services.NewIdentityResolver(db)
	issuer := services.NewIssuer(db, sim, services.IssuerOptions{
		Issuance:      config.IssuanceConfig{Brand: "PROVELT", Platform: "PROVELT", NetworkLabel: "Mantle Sepolia"},
		BadgeContract: sim.BadgeAddress.Hex(),
		MintTimeout:   time.Second,
	})
	chainCfg := config.ChainConfig{Network: "sepolia", ChainID: 5003, ExplorerURL: "https://sepolia.mantlescan.xyz", BadgeContract: sim.BadgeAddress.Hex(), Simulate: true}

	app := fiber.New()
	SetupSystemRoutes(app, chainCfg, sim)
	SetupReviewRoutes(app, services.NewReviewer(db, identity, issuer, nil, chainCfg.ExplorerTxURL, nil))
	SetupStakingRoutes(app, services.NewStakingService(sim, staking.NewLedger(rates), big.NewInt(5003), "PRVLT", nil), identity)
	SetupAdminRoutes(app, services.NewReconciler(db, issuer, identity, nil), 10)
	return &testApp{app: app, db: db, sim: sim}
}

func (a *testApp) do(t *testing.T, method, path, user, roles string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if roles != "" {
		req.Header.Set("X-User-Roles", roles)
	}
	resp, err := a.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]interface{}{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func (a *testApp) seed(t *testing.T) *models.Submission {
	t.Helper()
	a.db.Create(&models.Challenge{ID: "ch-1", Title: "Plank 2 minutes", Category: "fitness", Difficulty: models.DifficultyMedium, Points: 30, IsActive: true})
	w := wallet
	a.db.Create(&models.Profile{ID: "user-1", WalletAddress: &w})
	sub := &models.Submission{UserID: "user-1", ChallengeID: "ch-1"}
	if err := a.db.Create(sub).Error; err != nil {
		t.Fatal(err)
	}
	return sub
}

func TestDecideRoute(t *testing.T) {
	a := newTestApp(t)
	sub := a.seed(t)
	body := map[string]string{"submission_id": sub.ID, "action": "approve"}

	if code, _ := a.do(t, http.MethodPost, "/submissions/decide", "", "", body); code != fiber.StatusUnauthorized {
		t.Fatalf("no user: %d", code)
	}
	if code, _ := a.do(t, http.MethodPost, "/submissions/decide", "rev-1", "player", body); code != fiber.StatusForbidden {
		t.Fatalf("no role: %d", code)
	}

	code, out := a.do(t, http.MethodPost, "/submissions/decide", "rev-1", "reviewer", body)
	if code != fiber.StatusOK || out["status"] != "approved" {
		t.Fatalf("approve: %d %v", code, out)
	}
	issuance, _ := out["issuance"].(map[string]interface{})
	if issuance == nil || issuance["degraded"] != false || issuance["points_awarded"] != float64(30) {
		t.Fatalf("issuance = %v", out["issuance"])
	}

	if code, _ := a.do(t, http.MethodPost, "/submissions/decide", "rev-1", "admin", body); code != fiber.StatusConflict {
		t.Fatalf("second approve: %d", code)
	}
	missing := map[string]string{"submission_id": "nope", "action": "reject"}
	if code, _ := a.do(t, http.MethodPost, "/submissions/decide", "rev-1", "reviewer", missing); code != fiber.StatusNotFound {
		t.Fatalf("missing: %d", code)
	}
	bad := map[string]string{"submission_id": sub.ID, "action": "later"}
	if code, _ := a.do(t, http.MethodPost, "/submissions/decide", "rev-1", "reviewer", bad); code != fiber.StatusBadRequest {
		t.Fatalf("bad action: %d", code)
	}
}

func TestDecideWithoutWallet(t *testing.T) {
	a := newTestApp(t)
	a.db.Create(&models.Challenge{ID: "ch-1", Title: "Swim", Difficulty: models.DifficultyEasy, Points: 5})
	sub := &models.Submission{UserID: "walletless", ChallengeID: "ch-1"}
	a.db.Create(sub)

	code, out := a.do(t, http.MethodPost, "/submissions/decide", "rev-1", "reviewer", map[string]string{"submission_id": sub.ID, "action": "approve"})
	if code != fiber.StatusBadRequest || out["error"] != services.ErrWalletNotFound.Error() {
		t.Fatalf("%d %v", code, out)
	}
}

func TestSystemRoutes(t *testing.T) {
	a := newTestApp(t)

	code, out := a.do(t, http.MethodGet, "/chain/status", "", "", nil)
	if code != fiber.StatusOK || out["configured"] != true || out["network"] != "sepolia" {
		t.Fatalf("status: %d %v", code, out)
	}
	if code, _ := a.do(t, http.MethodGet, "/health", "", "", nil); code != fiber.StatusOK {
		t.Fatalf("health: %d", code)
	}

	a.sim.SetConfigured(false)
	_, out = a.do(t, http.MethodGet, "/chain/status", "", "", nil)
	if out["configured"] != false {
		t.Fatalf("status after unconfigure: %v", out)
	}
}

func TestStakingReadRoutes(t *testing.T) {
	a := newTestApp(t)
	a.seed(t)

	code, out := a.do(t, http.MethodGet, "/staking/rates", "user-1", "", nil)
	if code != fiber.StatusOK || out["symbol"] != "PRVLT" {
		t.Fatalf("rates: %d %v", code, out)
	}

	code, out = a.do(t, http.MethodGet, "/staking/position", "user-1", "", nil)
	if code != fiber.StatusOK || out["owner"] == nil || out["total_pending_wei"] != "0" {
		t.Fatalf("position: %d %v", code, out)
	}

	if code, _ := a.do(t, http.MethodGet, "/staking/position", "stranger", "", nil); code != fiber.StatusBadRequest {
		t.Fatalf("no wallet: %d", code)
	}
	if code, _ := a.do(t, http.MethodGet, "/staking/position/not-an-address", "user-1", "", nil); code != fiber.StatusBadRequest {
		t.Fatalf("bad owner: %d", code)
	}
	if code, _ := a.do(t, http.MethodPost, "/staking/stake", "user-1", "", map[string]interface{}{"token_id": "1", "tier": 2, "signed_tx": "0x00"}); code != fiber.StatusBadRequest {
		t.Fatalf("garbage tx: %d", code)
	}
}

func TestAdminRoutes(t *testing.T) {
	a := newTestApp(t)
	a.seed(t)
	a.db.Model(&models.Profile{}).Where("id = ?", "user-1").UpdateColumn("total_points", 77)

	if code, _ := a.do(t, http.MethodPost, "/admin/reconcile/profiles/user-1", "ops", "reviewer", nil); code != fiber.StatusForbidden {
		t.Fatalf("reviewer on admin: %d", code)
	}
	code, out := a.do(t, http.MethodPost, "/admin/reconcile/profiles/user-1", "ops", "admin", nil)
	if code != fiber.StatusOK || out["total_points"] != float64(0) || out["changed"] != true {
		t.Fatalf("recompute: %d %v", code, out)
	}
	if code, _ := a.do(t, http.MethodPost, "/admin/reconcile/profiles/ghost", "ops", "admin", nil); code != fiber.StatusNotFound {
		t.Fatalf("ghost: %d", code)
	}
	if code, _ := a.do(t, http.MethodPost, "/admin/badges/upgrade?limit=5", "ops", "admin", nil); code != fiber.StatusOK {
		t.Fatalf("upgrade: %d", code)
	}
}

func TestRespondErrorStatuses(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", services.ErrInvalidInput), fiber.StatusBadRequest},
		{services.ErrNotFound, fiber.StatusNotFound},
		{services.ErrAlreadyProcessed, fiber.StatusConflict},
		{staking.ErrAlreadyStaked, fiber.StatusConflict},
		{chain.ErrSignerMismatch, fiber.StatusForbidden},
		{&chain.PendingTxError{TxHash: "0xabc", Err: errors.New("timeout")}, fiber.StatusAccepted},
		{chain.ErrNotConfigured, fiber.StatusServiceUnavailable},
		{services.ErrPersistenceFailure, fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		app := fiber.New()
		err := tc.err
		app.Get("/", func(c *fiber.Ctx) error { return respondError(c, err) })
		resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		if resp.StatusCode != tc.want {
			t.Errorf("%v → %d, want %d", tc.err, resp.StatusCode, tc.want)
		}
	}
}
