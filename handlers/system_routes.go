// handlers/system_routes.go
package handlers

import (
	"proof-badge-system/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MintStatus reports whether issuance currently reaches the chain.
type MintStatus interface {
	Configured() bool
	StakingConfigured() bool
}

func shortAddress(addr string) string {
	if len(addr) < 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func SetupSystemRoutes(app *fiber.App, cfg config.ChainConfig, gw MintStatus) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/chain/status", func(c *fiber.Ctx) error {
		configured := gw.Configured()
		message := "On-chain minting is live"
		if !configured {
			message = "Minting runs in degraded mode; badges are recorded off-chain until the chain is configured"
		}
		return c.JSON(fiber.Map{
			"configured":         configured,
			"staking_configured": gw.StakingConfigured(),
			"simulated":          cfg.Simulate,
			"network":            cfg.Network,
			"chain_id":           cfg.ChainID,
			"badge_contract":     shortAddress(cfg.BadgeContract),
			"staking_contract":   shortAddress(cfg.StakingContract),
			"explorer":           cfg.ExplorerURL,
			"message":            message,
		})
	})
}
