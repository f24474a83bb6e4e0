package rest

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewServer wires the admin routes onto a fresh echo instance. metrics may
// be nil, in which case no metrics route is registered.
func NewServer(h *Handler, metrics http.Handler, metricsPath string, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return path == "/health" || path == metricsPath
		},
		LogStatus:   true,
		LogURI:      true,
		LogError:    true,
		LogMethod:   true,
		LogLatency:  true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			rctx := c.Request().Context()
			if v.Error == nil {
				logger.InfoContext(rctx, "request completed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds())
			} else {
				logger.WarnContext(rctx, "request failed",
					"method", v.Method,
					"uri", v.URI,
					"status", v.Status,
					"latency_ms", v.Latency.Milliseconds(),
					"error", v.Error.Error())
			}
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.GET("/health", h.Health)
	if metrics != nil {
		e.GET(metricsPath, echo.WrapHandler(metrics))
	}

	admin := e.Group("/admin")
	admin.POST("/sync-news", h.SyncNews)
	admin.GET("/sync-history", h.SyncHistory)
	admin.GET("/sync/:id", h.GetJob)
	admin.POST("/sync/:id/cancel", h.CancelJob)
	admin.POST("/sync/:id/retry", h.RetryJob)

	return e
}
