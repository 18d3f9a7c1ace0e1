package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// KeyCaller is the Locals key holding the index of the matched API key
const KeyCaller = "api_key_index"

// APIKeyAuthMiddleware accepts requests carrying one of the shared keys in the
// X-API-Key or Authorization: Bearer header. An empty key list disables the check.
func APIKeyAuthMiddleware(keys []string) fiber.Handler {
	allowed := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			allowed = append(allowed, []byte(k))
		}
	}

	return func(c *fiber.Ctx) error {
		if len(allowed) == 0 {
			return c.Next()
		}

		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		for i, k := range allowed {
			if subtle.ConstantTimeCompare([]byte(apiKey), k) == 1 {
				c.Locals(KeyCaller, i)
				return c.Next()
			}
		}

		log.Warnf("[APIKey] Rejected key for %s %s from %s", c.Method(), c.Path(), c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
