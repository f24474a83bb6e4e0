package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"news_sync/internal/domain"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// ErrShuttingDown is returned when a job is requested after Shutdown.
var ErrShuttingDown = errors.New("sync controller is shutting down")

type ControllerConfig struct {
	MaxLimit int // upper bound for SyncRequest.Limit, 0 disables the check
}

// Controller is the public control surface over jobs. Jobs run on
// goroutines detached from the request context; Shutdown cancels them.
type Controller struct {
	jobs    JobStore
	sources SourceResolver
	cancels CancelRegistry
	runner  JobRunner
	logger  *slog.Logger
	config  ControllerConfig

	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	closed  bool
	running map[string]chan struct{}
	wg      sync.WaitGroup
}

func NewController(
	jobs JobStore,
	sources SourceResolver,
	cancels CancelRegistry,
	runner JobRunner,
	logger *slog.Logger,
	cfg ControllerConfig,
) *Controller {
	baseCtx, stop := context.WithCancel(context.Background())
	return &Controller{
		jobs:    jobs,
		sources: sources,
		cancels: cancels,
		runner:  runner,
		logger:  logger.With("component", "controller"),
		config:  cfg,
		baseCtx: baseCtx,
		stop:    stop,
		running: make(map[string]chan struct{}),
	}
}

// StartSync validates the request, creates a pending job and dispatches it
// in the background. It returns as soon as the job is recorded.
func (c *Controller) StartSync(ctx context.Context, req domain.SyncRequest) (string, error) {
	normalized, err := c.normalize(req)
	if err != nil {
		return "", err
	}
	if c.isClosed() {
		return "", ErrShuttingDown
	}

	job, err := c.jobs.Create(ctx, normalized, "")
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := c.dispatch(job); err != nil {
		c.abandon(ctx, job, err)
		return "", err
	}

	c.logger.Info("sync job started", "job_id", job.ID)
	return job.ID, nil
}

// SyncAndWait starts a job and blocks until it is terminal or ctx ends. The
// job keeps running when ctx ends first.
func (c *Controller) SyncAndWait(ctx context.Context, req domain.SyncRequest) (*domain.SyncJob, error) {
	id, err := c.StartSync(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, id)
}

// Wait blocks until the in-process run of the job returns and then reports
// the stored job. Jobs not running in this process are returned as they are.
func (c *Controller) Wait(ctx context.Context, id string) (*domain.SyncJob, error) {
	c.mu.Lock()
	done, ok := c.running[id]
	c.mu.Unlock()

	if ok {
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.jobs.Get(ctx, id)
}

// Cancel raises the cancellation signal for an active job. Cancelling a
// terminal job is a no-op.
func (c *Controller) Cancel(ctx context.Context, id string) error {
	job, err := c.jobs.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	if err := c.cancels.Raise(ctx, id); err != nil {
		return fmt.Errorf("raise cancel signal: %w", err)
	}

	// the job may have finished between the read and the raise
	if latest, err := c.jobs.Get(ctx, id); err == nil && latest.Status.Terminal() {
		if err := c.cancels.Clear(ctx, id); err != nil {
			c.logger.Warn("clear stale cancel signal", "job_id", id, "error", err)
		}
	}

	c.logger.Info("sync job cancel requested", "job_id", id)
	return nil
}

// Retry creates and dispatches a fresh job from a terminal job's request.
// The original job is never modified.
func (c *Controller) Retry(ctx context.Context, id string) (string, error) {
	original, err := c.jobs.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !original.Status.Terminal() {
		return "", fmt.Errorf("job %s is %s: %w", id, original.Status, domain.ErrInvalidState)
	}
	if c.isClosed() {
		return "", ErrShuttingDown
	}

	job, err := c.jobs.Create(ctx, original.Request, original.ID)
	if err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if err := c.dispatch(job); err != nil {
		c.abandon(ctx, job, err)
		return "", err
	}

	c.logger.Info("sync job retried", "job_id", job.ID, "retry_of", original.ID)
	return job.ID, nil
}

func (c *Controller) RetryAndWait(ctx context.Context, id string) (*domain.SyncJob, error) {
	newID, err := c.Retry(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.Wait(ctx, newID)
}

func (c *Controller) Get(ctx context.Context, id string) (*domain.SyncJob, error) {
	return c.jobs.Get(ctx, id)
}

// History lists jobs newest first.
func (c *Controller) History(ctx context.Context, filter domain.HistoryFilter) ([]domain.SyncJob, error) {
	if filter.Offset < 0 || filter.Limit < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", domain.ErrInvalidRequest)
	}
	if filter.Status != "" && !slices.Contains(allStatuses, filter.Status) {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidRequest, filter.Status)
	}
	if filter.Language != "" {
		lang, err := domain.ParseLanguage(string(filter.Language))
		if err != nil {
			return nil, err
		}
		filter.Language = lang
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultHistoryLimit
	}
	if filter.Limit > MaxHistoryLimit {
		filter.Limit = MaxHistoryLimit
	}

	return c.jobs.List(ctx, filter)
}

// Shutdown stops accepting jobs, cancels the running ones and waits for
// them to record their final status.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	active := len(c.running)
	c.mu.Unlock()

	c.logger.Info("shutting down", "running_jobs", active)
	c.stop()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) dispatch(job *domain.SyncJob) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrShuttingDown
	}
	done := make(chan struct{})
	c.running[job.ID] = done
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.running, job.ID)
			c.mu.Unlock()
			close(done)
		}()

		if _, err := c.runner.Run(c.baseCtx, job); err != nil {
			c.logger.Error("sync job failed", "job_id", job.ID, "error", err)
		}
	}()
	return nil
}

// abandon finalizes a job that was created but never handed to a runner,
// so it cannot stay pending forever.
func (c *Controller) abandon(ctx context.Context, job *domain.SyncJob, reason error) {
	finishedAt := time.Now().UTC()
	err := c.jobs.SetStatus(context.WithoutCancel(ctx), job.ID, domain.JobStatusCancelled, &finishedAt)
	if err != nil {
		c.logger.Error("finalize undispatched job", "job_id", job.ID, "error", err)
		return
	}
	c.logger.Warn("sync job cancelled before dispatch", "job_id", job.ID, "reason", reason)
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

var allStatuses = []domain.JobStatus{
	domain.JobStatusPending,
	domain.JobStatusRunning,
	domain.JobStatusSuccess,
	domain.JobStatusPartial,
	domain.JobStatusFailed,
	domain.JobStatusCancelled,
}

// normalize trims and de-duplicates the request and checks it against the
// configured sources.
func (c *Controller) normalize(req domain.SyncRequest) (domain.SyncRequest, error) {
	lang, err := domain.ParseLanguage(string(req.Language))
	if err != nil {
		return domain.SyncRequest{}, err
	}

	categories := uniqueFolded(req.Categories)
	if len(categories) == 0 {
		return domain.SyncRequest{}, fmt.Errorf("%w: categories must not be empty", domain.ErrInvalidRequest)
	}

	if req.Limit < 0 {
		return domain.SyncRequest{}, fmt.Errorf("%w: limit must be positive", domain.ErrInvalidRequest)
	}
	if c.config.MaxLimit > 0 && req.Limit > c.config.MaxLimit {
		return domain.SyncRequest{}, fmt.Errorf("%w: limit must not exceed %d", domain.ErrInvalidRequest, c.config.MaxLimit)
	}

	var sources []string
	for _, id := range uniqueFolded(req.Sources) {
		src, ok := c.sources.Lookup(id)
		if !ok {
			return domain.SyncRequest{}, fmt.Errorf("%w: unknown source %q", domain.ErrInvalidRequest, id)
		}
		if !slices.Contains(src.Languages(), lang) {
			return domain.SyncRequest{}, fmt.Errorf("%w: source %q does not serve %s", domain.ErrInvalidRequest, id, lang)
		}
		sources = append(sources, src.ID())
	}
	if len(sources) == 0 && len(c.sources.ForLanguage(lang)) == 0 {
		return domain.SyncRequest{}, fmt.Errorf("%w: no source serves %s", domain.ErrInvalidRequest, lang)
	}

	return domain.SyncRequest{
		Categories: categories,
		Language:   lang,
		Sources:    sources,
		Limit:      req.Limit,
	}, nil
}

func uniqueFolded(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
