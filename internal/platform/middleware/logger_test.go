package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestLogger_EmitsRequestLine(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	e.Use(Logger(logger))
	e.GET("/ping", func(c echo.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("User-Agent", "health-checker/1.0")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	line := buf.String()
	for _, field := range []string{
		`"method":"GET"`,
		`"path":"/ping"`,
		`"status":200`,
		`"bytes_out":4`,
		`"user_agent":"health-checker/1.0"`,
		`"level":"info"`,
	} {
		if !strings.Contains(line, field) {
			t.Errorf("log line missing %s: %s", field, line)
		}
	}
}

func TestLogger_ServerErrorLogsAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	e := echo.New()
	e.Use(Logger(logger))
	e.GET("/boom", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusInternalServerError, "boom")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if line := buf.String(); !strings.Contains(line, `"level":"error"`) {
		t.Errorf("expected error level log line, got: %s", line)
	}
}
