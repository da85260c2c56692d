// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	RoleAdmin    = "admin"
	RoleReviewer = "reviewer"
)

// UserContextMiddleware extracts user identity and roles set by Gateway.
// Every route behind it needs a user, so a missing X-User-ID is rejected.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Printf("❌ [USER_CTX] X-User-ID required but missing: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			r = strings.ToLower(strings.TrimSpace(r))
			if r != "" {
				roles = append(roles, r)
			}
		}

		// Attach to ctx for handlers
		c.Locals("user_id", userID)
		c.Locals("user_roles", roles)
		c.Locals("user_wallet", strings.TrimSpace(c.Get("X-User-Wallet")))

		return c.Next()
	}
}

// RequireRole lets the request through when the caller holds any of roles.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, have := range Roles(c) {
			for _, want := range roles {
				if have == want {
					return c.Next()
				}
			}
		}
		log.Printf("🚫 [USER_CTX] %s lacks role %v for %s", UserID(c), roles, c.Path())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "insufficient role",
		})
	}
}

func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}

func Roles(c *fiber.Ctx) []string {
	roles, _ := c.Locals("user_roles").([]string)
	return roles
}

// Wallet is the caller's wallet as forwarded by the Gateway, if any.
func Wallet(c *fiber.Ctx) string {
	w, _ := c.Locals("user_wallet").(string)
	return w
}
