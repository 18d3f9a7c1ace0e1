package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(keys []string) *fiber.App {
	app := fiber.New()
	app.Post("/hook", APIKeyAuthMiddleware(keys), func(c *fiber.Ctx) error {
		idx, _ := c.Locals(KeyCaller).(int)
		return c.JSON(fiber.Map{"key": idx})
	})
	return app
}

func TestAPIKeyAuthMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		keys   []string
		header string
		value  string
		want   int
	}{
		{"disabled without keys", nil, "", "", http.StatusOK},
		{"blank keys disable", []string{" ", ""}, "", "", http.StatusOK},
		{"missing key", []string{"k1"}, "", "", http.StatusUnauthorized},
		{"wrong key", []string{"k1"}, "X-API-Key", "k2", http.StatusUnauthorized},
		{"header key", []string{"k1"}, "X-API-Key", "k1", http.StatusOK},
		{"bearer key", []string{"k1", "k2"}, "Authorization", "Bearer k2", http.StatusOK},
		{"bearer case insensitive", []string{"k1"}, "Authorization", "bearer k1", http.StatusOK},
		{"basic scheme ignored", []string{"k1"}, "Authorization", "Basic k1", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newTestApp(tt.keys)
			req := httptest.NewRequest(http.MethodPost, "/hook", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}
