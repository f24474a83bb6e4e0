package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"news_sync/internal/domain"
	"news_sync/internal/service"
)

// mapError converts a controller error into an echo.HTTPError. Validation
// messages are passed through; anything unexpected is hidden.
func mapError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())

	case errors.Is(err, domain.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "sync job not found")

	case errors.Is(err, domain.ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())

	case errors.Is(err, service.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")

	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "sync did not finish in time")

	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
