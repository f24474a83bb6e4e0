// Package rest exposes the sync controller over HTTP.
package rest

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"news_sync/internal/domain"
)

// Controller is the part of service.Controller the HTTP layer drives.
type Controller interface {
	StartSync(ctx context.Context, req domain.SyncRequest) (string, error)
	SyncAndWait(ctx context.Context, req domain.SyncRequest) (*domain.SyncJob, error)
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) (string, error)
	RetryAndWait(ctx context.Context, id string) (*domain.SyncJob, error)
	Get(ctx context.Context, id string) (*domain.SyncJob, error)
	History(ctx context.Context, filter domain.HistoryFilter) ([]domain.SyncJob, error)
}

type Handler struct {
	controller  Controller
	logger      *slog.Logger
	syncTimeout time.Duration
}

// NewHandler builds the admin handlers. syncTimeout bounds how long a
// synchronous sync or retry request waits for its job; 0 waits for as long
// as the client stays connected.
func NewHandler(controller Controller, logger *slog.Logger, syncTimeout time.Duration) *Handler {
	return &Handler{
		controller:  controller,
		logger:      logger.With("component", "rest"),
		syncTimeout: syncTimeout,
	}
}

// SyncNews handles POST /admin/sync-news. With ?async=true it answers 202
// as soon as the job is created.
func (h *Handler) SyncNews(c echo.Context) error {
	var body syncNewsRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if body.Limit != nil && *body.Limit <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "limit must be positive")
	}

	var async bool
	if err := echo.QueryParamsBinder(c).Bool("async", &async).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "async must be a boolean")
	}

	ctx := c.Request().Context()
	if async {
		id, err := h.controller.StartSync(ctx, body.toDomain())
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusAccepted, acceptedResponse{ID: id, Status: string(domain.JobStatusPending)})
	}

	ctx, cancel := h.waitContext(ctx)
	defer cancel()

	job, err := h.controller.SyncAndWait(ctx, body.toDomain())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, newSyncResponse(job))
}

// SyncHistory handles GET /admin/sync-history.
func (h *Handler) SyncHistory(c echo.Context) error {
	var (
		status, language string
		limit, offset    int
	)
	err := echo.QueryParamsBinder(c).
		String("status", &status).
		String("language", &language).
		Int("limit", &limit).
		Int("offset", &offset).
		BindError()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "limit and offset must be integers")
	}

	jobs, err := h.controller.History(c.Request().Context(), domain.HistoryFilter{
		Status:   domain.JobStatus(status),
		Language: domain.Language(language),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return h.fail(c, err)
	}

	resp := historyResponse{Data: make([]historyItem, 0, len(jobs))}
	for _, job := range jobs {
		resp.Data = append(resp.Data, newHistoryItem(job))
	}
	return c.JSON(http.StatusOK, resp)
}

// GetJob handles GET /admin/sync/:id.
func (h *Handler) GetJob(c echo.Context) error {
	job, err := h.controller.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, newJobResponse(job))
}

// CancelJob handles POST /admin/sync/:id/cancel.
func (h *Handler) CancelJob(c echo.Context) error {
	if err := h.controller.Cancel(c.Request().Context(), c.Param("id")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// RetryJob handles POST /admin/sync/:id/retry.
func (h *Handler) RetryJob(c echo.Context) error {
	var async bool
	if err := echo.QueryParamsBinder(c).Bool("async", &async).BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "async must be a boolean")
	}

	ctx := c.Request().Context()
	if async {
		id, err := h.controller.Retry(ctx, c.Param("id"))
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(http.StatusAccepted, acceptedResponse{ID: id, Status: string(domain.JobStatusPending)})
	}

	ctx, cancel := h.waitContext(ctx)
	defer cancel()

	job, err := h.controller.RetryAndWait(ctx, c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, newSyncResponse(job))
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (h *Handler) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.syncTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.syncTimeout)
}

func (h *Handler) fail(c echo.Context, err error) error {
	httpErr := mapError(err)
	if httpErr.Code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
	}
	return httpErr
}
