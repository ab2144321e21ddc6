package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medregistry/registry/internal/platform/httpx"
)

// APIKey authenticates requests against the configured shared secret and
// stamps the context with an actor label for the audit trail. The label
// carries only a key prefix so full credentials never land in the log.
func APIKey(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got := c.Request().Header.Get("X-API-Key")
			if got == "" {
				return httpx.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing X-API-Key header")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				return httpx.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid API key")
			}
			c.Set("actor", actorLabel(got))
			return next(c)
		}
	}
}

func actorLabel(key string) string {
	if len(key) <= 8 {
		return "api-key:" + key
	}
	return "api-key:" + key[:8] + "..."
}
