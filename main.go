package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"proof-badge-system/app"
	"proof-badge-system/config"
	"proof-badge-system/handlers"
	"proof-badge-system/metrics"
	"proof-badge-system/middleware"
	"proof-badge-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	if cfg.Server.ServiceToken == "" {
		log.Fatal("SERVICE_TOKEN environment variable not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal("failed to start: ", err)
	}
	defer a.Close()

	server := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	allowedOrigins := strings.Join(cfg.Server.AllowedOrigins, ",")
	server.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles, X-User-Wallet",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	server.Use(middleware.GatewayAuthMiddleware(cfg.Server.ServiceToken))

	handlers.SetupSystemRoutes(server, cfg.Chain, a.Gateway)
	handlers.SetupReviewRoutes(server, a.Reviewer)
	handlers.SetupStakingRoutes(server, a.Staking, a.Identity)
	handlers.SetupAdminRoutes(server, a.Reconciler, cfg.Scheduler.UpgradeBatch)

	sched, err := a.Reconciler.StartReconcileScheduler(ctx, cfg.Scheduler)
	if err != nil {
		log.Fatal("failed to start scheduler: ", err)
	}

	if cfg.Sync.ServiceURL != "" {
		walletSync := workers.NewWalletSyncClient(a.DB, cfg.Sync.ServiceURL, cfg.Server.ServiceToken)
		go workers.PollWallets(ctx, walletSync, cfg.Sync.PollInterval)
		workers.NewProfileSyncWorker(a.DB, cfg.Sync.ServiceURL, cfg.Server.ServiceToken, time.Minute).Start(ctx)
		log.Printf("✅ Wallet polling running (every %s)", cfg.Sync.PollInterval)
	} else {
		log.Println("⚠️  SYNC_SERVICE_URL not set, wallet and profile sync disabled")
	}

	go func() {
		if err := server.Listen(":" + cfg.Server.Port); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", cfg.Server.Port)
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOrigins)

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := sched.Shutdown(); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}
}
