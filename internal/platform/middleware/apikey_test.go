package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func apiKeyServer(key string) (*echo.Echo, *string) {
	e := echo.New()
	var actor string
	e.GET("/p", func(c echo.Context) error {
		actor, _ = c.Get("actor").(string)
		return c.NoContent(http.StatusOK)
	}, APIKey(key))
	return e, &actor
}

func TestAPIKey_Missing(t *testing.T) {
	e, _ := apiKeyServer("secret-key-value")

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAPIKey_Wrong(t *testing.T) {
	e, _ := apiKeyServer("secret-key-value")

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAPIKey_Valid(t *testing.T) {
	e, actor := apiKeyServer("secret-key-value")

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("X-API-Key", "secret-key-value")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if *actor != "api-key:secret-k..." {
		t.Errorf("unexpected actor label %q", *actor)
	}
}

func TestActorLabel_ShortKey(t *testing.T) {
	if got := actorLabel("abc"); got != "api-key:abc" {
		t.Errorf("unexpected label %q", got)
	}
}
