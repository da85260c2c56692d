// Package app wires the configured components together for the HTTP service
// and the operator CLI.
package app

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"proof-badge-system/chain"
	"proof-badge-system/config"
	"proof-badge-system/database"
	"proof-badge-system/services"
	"proof-badge-system/staking"
	"proof-badge-system/utils"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type App struct {
	Config  *config.Config
	DB      *gorm.DB
	Gateway chain.Gateway
	ChainID *big.Int
	Redis   *redis.Client

	Identity   *services.IdentityResolver
	Issuer     *services.Issuer
	Reviewer   *services.Reviewer
	Reconciler *services.Reconciler
	Staking    *services.StakingService

	closers []func()
}

// New opens the store, connects the chain gateway and builds every service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}

	rates, err := staking.NewRateTable(cfg.Staking.DailyYields, cfg.Staking.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("staking rates: %w", err)
	}

	a := &App{Config: cfg, DB: db, ChainID: big.NewInt(cfg.Chain.ChainID)}

	if cfg.Chain.Simulate {
		sim := chain.NewSimulator(rates, nil)
		sim.DelayMints(cfg.Chain.SimulateLatency)
		a.Gateway = sim
		log.Printf("🧪 [CHAIN] Simulated chain (mint latency %s)", cfg.Chain.SimulateLatency)
	} else {
		client, err := chain.Dial(ctx, cfg.Chain)
		if err != nil {
			return nil, err
		}
		a.Gateway = client
		a.closers = append(a.closers, client.Close)
		if client.Configured() {
			log.Printf("⛓️ [CHAIN] Minting on %s (chain %d)", cfg.Chain.Network, cfg.Chain.ChainID)
		} else {
			log.Println("⚠️ [CHAIN] Minting not configured — badges will be issued in degraded mode")
		}
	}

	archive, err := utils.NewArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}

	var lock services.Locker
	if a.Redis, err = utils.NewRedisClient(ctx, cfg.Redis); err != nil {
		return nil, err
	}
	if a.Redis != nil {
		lock = utils.NewRedisLock(a.Redis, "decide:", cfg.Redis.LockTTL)
		rc := a.Redis
		a.closers = append(a.closers, func() { _ = rc.Close() })
	}

	opts := services.IssuerOptions{
		Issuance:      cfg.Issuance,
		BadgeContract: cfg.Chain.BadgeContract,
		MintTimeout:   cfg.Chain.MintTimeout,
		ArchiveKey:    utils.MetadataKey,
	}
	if archive != nil {
		opts.Archive = archive
	}
	if cfg.Chain.Simulate {
		if sim, ok := a.Gateway.(*chain.Simulator); ok {
			opts.BadgeContract = sim.BadgeAddress.Hex()
		}
	}

	a.Identity = services.NewIdentityResolver(db)
	a.Issuer = services.NewIssuer(db, a.Gateway, opts)
	a.Reviewer = services.NewReviewer(db, a.Identity, a.Issuer, lock, cfg.Chain.ExplorerTxURL, nil)
	a.Reconciler = services.NewReconciler(db, a.Issuer, a.Identity, nil)
	a.Staking = services.NewStakingService(a.Gateway, staking.NewLedger(rates), a.ChainID, cfg.Staking.TokenSymbol, nil)
	return a, nil
}

// Close waits for background archive uploads and releases connections.
func (a *App) Close() {
	a.Issuer.Wait()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
