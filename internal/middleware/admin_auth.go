package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
)

// RequireAdminToken guards the admin API with a shared secret sent in the
// X-Admin-Token header.
func RequireAdminToken(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		got := c.Get("X-Admin-Token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid admin token",
			})
		}
		return c.Next()
	}
}
