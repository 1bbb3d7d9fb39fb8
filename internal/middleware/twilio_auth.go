package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

// ValidateTwilioSignature validates that the webhook request is from Twilio.
// publicURL is the externally visible base URL the webhook is configured
// with in the Twilio console; when empty the URL is rebuilt from the request.
func ValidateTwilioSignature(authToken, publicURL string, logger *zap.Logger) fiber.Handler {
	validator := client.NewRequestValidator(authToken)
	publicURL = strings.TrimSuffix(publicURL, "/")

	return func(c *fiber.Ctx) error {
		if authToken == "" {
			// Log error but don't expose to client
			logger.Error("TWILIO_AUTH_TOKEN not set, cannot validate webhook")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Server configuration error",
			})
		}

		// Get Twilio signature from header
		signature := c.Get("X-Twilio-Signature")
		if signature == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Twilio signature",
			})
		}

		fullURL := getFullURL(c, publicURL)

		// Get all form parameters
		formParams := make(map[string]string)
		c.Request().PostArgs().VisitAll(func(key, value []byte) {
			formParams[string(key)] = string(value)
		})

		if !validator.Validate(fullURL, formParams, signature) {
			logger.Warn("rejected webhook with invalid signature",
				zap.String("url", fullURL),
				zap.String("ip", c.IP()),
			)
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "Invalid signature",
			})
		}

		return c.Next()
	}
}

// getFullURL constructs the URL Twilio signed
func getFullURL(c *fiber.Ctx, publicURL string) string {
	if publicURL != "" {
		return publicURL + c.OriginalURL()
	}
	return fmt.Sprintf("%s://%s%s", c.Protocol(), c.Hostname(), c.OriginalURL())
}
