// handlers/admin_routes.go
package handlers

import (
	"proof-badge-system/middleware"
	"proof-badge-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupAdminRoutes(app *fiber.App, recon *services.Reconciler, upgradeBatch int) {
	// 🔐 Admin only
	admin := app.Group("/admin", middleware.UserContextMiddleware(), middleware.RequireRole(middleware.RoleAdmin))

	admin.Post("/reconcile/profiles/:id", func(c *fiber.Ctx) error {
		totals, err := recon.Recompute(c.UserContext(), c.Params("id"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(totals)
	})

	admin.Post("/reconcile/all", func(c *fiber.Ctx) error {
		challenges, err := recon.RecomputeChallenges(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		profiles, err := recon.RecomputeAll(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"challenges": challenges, "profiles": profiles})
	})

	admin.Post("/badges/backfill", func(c *fiber.Ctx) error {
		report, err := recon.BackfillBadges(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(report)
	})

	admin.Post("/badges/upgrade", func(c *fiber.Ctx) error {
		report, err := recon.UpgradeDegraded(c.UserContext(), c.QueryInt("limit", upgradeBatch))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(report)
	})

	admin.Get("/badges/stats", func(c *fiber.Ctx) error {
		stats, err := recon.Stats(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(stats)
	})
}
