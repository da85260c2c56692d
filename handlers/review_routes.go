// handlers/review_routes.go
package handlers

import (
	"proof-badge-system/middleware"
	"proof-badge-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupReviewRoutes(app *fiber.App, reviewer *services.Reviewer) {
	// 🔐 Reviewers and admins only
	secured := app.Group("/submissions",
		middleware.UserContextMiddleware(),
		middleware.RequireRole(middleware.RoleReviewer, middleware.RoleAdmin),
	)

	secured.Post("/decide", func(c *fiber.Ctx) error {
		var req services.DecideRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid request body",
			})
		}

		res, err := reviewer.Decide(c.UserContext(), req)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})
}
