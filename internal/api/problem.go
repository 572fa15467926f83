package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"protocol-foundry/backend/internal/logging"
)

// ProblemDetails is an RFC 7807 problem+json error body.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// ProblemHandler converts every handler error into an RFC 7807 response.
// Wire it as the echo HTTPErrorHandler.
func ProblemHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		detail := "internal server error"

		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			status = httpErr.Code
			if msg, ok := httpErr.Message.(string); ok {
				detail = msg
			} else {
				detail = http.StatusText(status)
			}
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Path(), "error", err)
		}

		problem := ProblemDetails{
			Type:     "about:blank",
			Title:    http.StatusText(status),
			Status:   status,
			Detail:   detail,
			Instance: c.Request().URL.Path,
		}
		c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
		if writeErr := c.JSON(status, problem); writeErr != nil {
			logger.Error("failed to write error response", "error", writeErr)
		}
	}
}
