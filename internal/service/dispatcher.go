package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"news_sync/internal/dedup"
	"news_sync/internal/domain"
	"news_sync/internal/source"
)

// Candidate outcomes reported to Metrics.
const (
	OutcomeNew       = "new"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

type DispatcherConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type DispatcherOption func(*Dispatcher)

// WithFingerprintLookup replaces the article store as the durable dedup
// lookup, typically with a dedup.Cache wrapping it.
func WithFingerprintLookup(l dedup.Lookup) DispatcherOption {
	return func(d *Dispatcher) { d.lookup = l }
}

func WithPublisher(p Publisher) DispatcherOption {
	return func(d *Dispatcher) { d.publisher = p }
}

func WithMetrics(m Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher runs a single job: it pages through every category and source
// combination, deduplicates candidates and persists new articles.
type Dispatcher struct {
	jobs      JobStore
	articles  ArticleStore
	tags      TagStore
	states    SourceStateStore
	txManager TransactionManager
	sources   SourceResolver
	cancels   CancelRegistry
	lookup    dedup.Lookup
	publisher Publisher
	metrics   Metrics
	logger    *slog.Logger
	config    DispatcherConfig
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	jobs JobStore,
	articles ArticleStore,
	tags TagStore,
	states SourceStateStore,
	txManager TransactionManager,
	sources SourceResolver,
	cancels CancelRegistry,
	logger *slog.Logger,
	cfg DispatcherConfig,
	opts ...DispatcherOption,
) *Dispatcher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	d := &Dispatcher{
		jobs:      jobs,
		articles:  articles,
		tags:      tags,
		states:    states,
		txManager: txManager,
		sources:   sources,
		cancels:   cancels,
		lookup:    articles,
		metrics:   noopMetrics{},
		logger:    logger.With("component", "dispatcher"),
		config:    cfg,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type jobRun struct {
	job       *domain.SyncJob
	logger    *slog.Logger
	index     *dedup.Index
	processed int
	stats     domain.SyncStats
}

// remaining is the candidate budget left, 0 when the job is uncapped.
func (r *jobRun) remaining() int {
	if r.job.Request.Limit <= 0 {
		return 0
	}
	return r.job.Request.Limit - r.processed
}

func (r *jobRun) exhausted() bool {
	return r.job.Request.Limit > 0 && r.processed >= r.job.Request.Limit
}

// Run marks the job running, ingests until every source is exhausted, the
// limit is hit or cancellation is observed, and records the final status.
// Job store writes outlive ctx so a shutdown still finalizes the job.
func (d *Dispatcher) Run(ctx context.Context, job *domain.SyncJob) (*domain.SyncStats, error) {
	startTime := time.Now()
	storeCtx := context.WithoutCancel(ctx)

	if err := d.jobs.SetStatus(storeCtx, job.ID, domain.JobStatusRunning, nil); err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	d.metrics.JobStarted()

	run := &jobRun{
		job:    job,
		logger: d.logger.With("job_id", job.ID),
		index:  dedup.NewIndex(d.lookup),
		stats: domain.SyncStats{
			JobID:     job.ID,
			PerSource: make(map[string]int),
		},
	}
	run.logger.Info("starting sync",
		"categories", job.Request.Categories,
		"language", job.Request.Language,
		"sources", job.Request.Sources,
		"limit", job.Request.Limit,
	)

	sources, missing := d.resolve(job.Request)
	for _, id := range missing {
		d.recordErrors(storeCtx, run, id, fmt.Sprintf("%s: source is not configured", id))
	}

	cancelled := false
loop:
	for _, category := range job.Request.Categories {
		for _, src := range sources {
			if _, seen := run.stats.PerSource[src.ID()]; !seen {
				run.stats.PerSource[src.ID()] = 0
			}
			if d.syncSource(ctx, storeCtx, run, src, category) {
				cancelled = true
				break loop
			}
			if run.exhausted() {
				run.logger.Debug("limit reached", "limit", job.Request.Limit)
				break loop
			}
		}
	}

	return d.finalize(storeCtx, run, cancelled, startTime)
}

// syncSource pages through one source for one category. It reports true when
// the job must stop because cancellation was requested.
func (d *Dispatcher) syncSource(ctx, storeCtx context.Context, run *jobRun, src source.Source, category string) bool {
	q := domain.SourceQuery{
		Category: category,
		Language: run.job.Request.Language,
	}

	for {
		if d.cancelRequested(ctx, run) {
			return true
		}

		q.Limit = run.remaining()
		page, err := d.fetchPage(ctx, run.logger, src, q)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			run.logger.Warn("fetch failed", "source", src.ID(), "category", category, "error", err)
			d.recordErrors(storeCtx, run, src.ID(), fmt.Sprintf("%s/%s: %v", src.ID(), category, err))
			return false
		}

		if len(page.ItemErrors) > 0 {
			d.recordErrors(storeCtx, run, src.ID(), page.ItemErrors...)
		}

		for _, c := range page.Candidates {
			if run.exhausted() {
				return false
			}
			if d.cancelRequested(ctx, run) {
				return true
			}
			d.processCandidate(ctx, storeCtx, run, src.ID(), c)
		}

		if page.Done || page.NextCursor == "" || run.exhausted() {
			return false
		}
		q.Cursor = page.NextCursor
	}
}

// fetchPage retries rate-limited pages with exponential backoff, waiting at
// least as long as the provider asked.
func (d *Dispatcher) fetchPage(ctx context.Context, logger *slog.Logger, src source.Source, q domain.SourceQuery) (*domain.CandidatePage, error) {
	var lastErr error
	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		page, err := src.Fetch(ctx, q)
		if err == nil {
			return page, nil
		}
		lastErr = err

		if !errors.Is(err, domain.ErrProviderRateLimited) || attempt == d.config.MaxAttempts {
			break
		}

		backoff := d.calculateBackoff(attempt)
		var rl *domain.RateLimitedError
		if errors.As(err, &rl) && rl.RetryAfter > backoff {
			backoff = rl.RetryAfter
		}
		logger.Warn("rate limited, retrying",
			"source", src.ID(),
			"attempt", attempt,
			"backoff", backoff,
		)
		if err := d.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	if errors.Is(lastErr, domain.ErrProviderRateLimited) && d.config.MaxAttempts > 1 {
		return nil, fmt.Errorf("after %d attempts: %w", d.config.MaxAttempts, lastErr)
	}
	return nil, lastErr
}

func (d *Dispatcher) calculateBackoff(attempt int) time.Duration {
	backoff := d.config.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if d.config.MaxBackoff > 0 && backoff > d.config.MaxBackoff {
		backoff = d.config.MaxBackoff
	}
	return backoff
}

func (d *Dispatcher) processCandidate(ctx, storeCtx context.Context, run *jobRun, sourceID string, c domain.ArticleCandidate) {
	run.processed++

	outcome, err := d.ingest(ctx, run, c)
	switch outcome {
	case OutcomeNew:
		run.stats.New++
		run.stats.PerSource[sourceID]++
		d.flush(storeCtx, run, domain.Progress{NewArticles: 1})
	case OutcomeDuplicate:
		run.stats.Duplicates++
		d.flush(storeCtx, run, domain.Progress{Duplicates: 1})
	default:
		run.stats.Errors++
		msg := fmt.Sprintf("%s: store %q: %v", sourceID, c.Title, err)
		run.logger.Warn("candidate failed", "source", sourceID, "external_id", c.ExternalID, "error", err)
		d.flush(storeCtx, run, domain.Progress{Errors: []string{msg}})
	}
	d.metrics.CandidateProcessed(sourceID, outcome)
}

// ingest stores a candidate unless its fingerprint is already known. A
// unique violation from a concurrent job counts as a duplicate.
func (d *Dispatcher) ingest(ctx context.Context, run *jobRun, c domain.ArticleCandidate) (string, error) {
	exists, err := run.index.Exists(ctx, c.Fingerprint)
	if err != nil {
		return OutcomeError, fmt.Errorf("%w: lookup fingerprint: %v", domain.ErrStorageFailure, err)
	}
	if exists {
		return OutcomeDuplicate, nil
	}

	article := c.ToArticle()
	err = d.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		id, err := d.articles.Insert(txCtx, article)
		if err != nil {
			return err
		}
		article.ID = id

		if len(article.Tags) == 0 {
			return nil
		}
		tagIDs, err := d.tags.Ensure(txCtx, article.Tags)
		if err != nil {
			return fmt.Errorf("ensure tags: %w", err)
		}
		if err := d.tags.LinkToArticle(txCtx, id, tagIDs); err != nil {
			return fmt.Errorf("link tags: %w", err)
		}
		return nil
	})

	switch {
	case errors.Is(err, domain.ErrDuplicateArticle):
		d.remember(ctx, run, c.Fingerprint)
		return OutcomeDuplicate, nil
	case err != nil:
		return OutcomeError, err
	}

	d.remember(ctx, run, c.Fingerprint)
	d.publish(ctx, run, article)
	return OutcomeNew, nil
}

func (d *Dispatcher) remember(ctx context.Context, run *jobRun, fingerprint string) {
	if err := run.index.Record(ctx, fingerprint); err != nil {
		run.logger.Warn("record fingerprint", "fingerprint", fingerprint, "error", err)
	}
}

func (d *Dispatcher) publish(ctx context.Context, run *jobRun, article *domain.Article) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.Publish(ctx, article); err != nil {
		run.logger.Warn("publish article", "article_id", article.ID, "error", err)
	}
}

func (d *Dispatcher) recordErrors(storeCtx context.Context, run *jobRun, sourceID string, msgs ...string) {
	run.stats.Errors += len(msgs)
	for range msgs {
		d.metrics.CandidateProcessed(sourceID, OutcomeError)
	}
	d.flush(storeCtx, run, domain.Progress{Errors: msgs})
}

func (d *Dispatcher) flush(storeCtx context.Context, run *jobRun, delta domain.Progress) {
	if delta.Empty() {
		return
	}
	if err := d.jobs.UpdateProgress(storeCtx, run.job.ID, delta); err != nil {
		run.logger.Error("update progress", "error", err)
	}
}

// cancelRequested is the cooperative check point. A failing registry is
// logged and treated as "not cancelled".
func (d *Dispatcher) cancelRequested(ctx context.Context, run *jobRun) bool {
	if ctx.Err() != nil {
		return true
	}
	raised, err := d.cancels.IsRaised(ctx, run.job.ID)
	if err != nil {
		run.logger.Warn("check cancel signal", "error", err)
		return false
	}
	return raised
}

func (d *Dispatcher) finalize(storeCtx context.Context, run *jobRun, cancelled bool, startTime time.Time) (*domain.SyncStats, error) {
	status := domain.FinalStatus(run.stats.New, run.stats.Duplicates, run.stats.Errors)
	if cancelled {
		status = domain.JobStatusCancelled
	}

	finishedAt := time.Now().UTC()
	setErr := d.jobs.SetStatus(storeCtx, run.job.ID, status, &finishedAt)

	if err := d.cancels.Clear(storeCtx, run.job.ID); err != nil {
		run.logger.Warn("clear cancel signal", "error", err)
	}
	d.updateSourceStates(storeCtx, run, finishedAt)

	run.stats.Processed = run.processed
	run.stats.Cancelled = cancelled
	run.stats.Duration = time.Since(startTime)
	d.metrics.JobFinished(status, run.stats.Duration)

	run.logger.Info("sync completed",
		"status", status,
		"new", run.stats.New,
		"duplicates", run.stats.Duplicates,
		"errors", run.stats.Errors,
		"processed", run.stats.Processed,
		"duration", run.stats.Duration,
	)

	if setErr != nil {
		return &run.stats, fmt.Errorf("finalize job: %w", setErr)
	}
	return &run.stats, nil
}

func (d *Dispatcher) updateSourceStates(ctx context.Context, run *jobRun, finishedAt time.Time) {
	ids := make([]string, 0, len(run.stats.PerSource))
	for id := range run.stats.PerSource {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		state, err := d.states.Get(ctx, id)
		if err != nil {
			run.logger.Warn("load source state", "source", id, "error", err)
			continue
		}
		state.SourceID = id
		state.LastSyncedAt = finishedAt
		state.LastJobID = run.job.ID
		state.TotalSynced += int64(run.stats.PerSource[id])

		if err := d.states.Update(ctx, state); err != nil {
			run.logger.Warn("update source state", "source", id, "error", err)
		}
	}
}

// resolve returns the sources a request targets and the requested ids that
// are no longer configured.
func (d *Dispatcher) resolve(req domain.SyncRequest) ([]source.Source, []string) {
	if len(req.Sources) == 0 {
		return d.sources.ForLanguage(req.Language), nil
	}

	var (
		out     []source.Source
		missing []string
	)
	for _, id := range req.Sources {
		s, ok := d.sources.Lookup(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, s)
	}
	return out, missing
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type noopMetrics struct{}

func (noopMetrics) CandidateProcessed(string, string)           {}
func (noopMetrics) JobStarted()                                 {}
func (noopMetrics) JobFinished(domain.JobStatus, time.Duration) {}
