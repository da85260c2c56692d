// middleware/gateway.go
package middleware

import (
	"crypto/subtle"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware admits only requests carrying the shared service
// token, either as "Bearer <token>" or as the raw header value.
func GatewayAuthMiddleware(expectedToken string) fiber.Handler {
	if expectedToken == "" {
		log.Fatal("❌ SERVICE_TOKEN is not set — badge service cannot authenticate Gateway")
	}
	expected := []byte(expectedToken)

	return func(c *fiber.Ctx) error {
		authHeader := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if authHeader == "" {
			log.Printf("🚫 [GATEWAY_AUTH] Missing Authorization header for %s %s", c.Method(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "gateway authentication token missing",
			})
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			log.Printf("❌ [GATEWAY_AUTH] Invalid token for %s %s", c.Method(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway authentication token",
			})
		}

		return c.Next()
	}
}
