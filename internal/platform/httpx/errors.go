// Package httpx holds the shared error envelope every handler returns.
// Clients key off the stable code string, not the HTTP status alone.
package httpx

import "github.com/labstack/echo/v4"

type ErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// Error writes the envelope with the given status. Details defaults to an
// empty list so clients never see null.
func Error(c echo.Context, status int, code, message string, details ...string) error {
	if details == nil {
		details = []string{}
	}
	return c.JSON(status, ErrorEnvelope{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}
