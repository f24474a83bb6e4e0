package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"news_sync/internal/cancellation"
	"news_sync/internal/domain"
	"news_sync/internal/fingerprint"
	"news_sync/internal/service/mocks"
	"news_sync/internal/source"
	"news_sync/internal/storage/memory"
)

type fakeSource struct {
	id    string
	langs []domain.Language

	mu    sync.Mutex
	items []domain.ArticleCandidate
	err   error
}

func (f *fakeSource) ID() string                   { return f.id }
func (f *fakeSource) Name() string                 { return f.id }
func (f *fakeSource) Languages() []domain.Language { return f.langs }

func (f *fakeSource) Fetch(_ context.Context, q domain.SourceQuery) (*domain.CandidatePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	items := f.items
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	out := make([]domain.ArticleCandidate, len(items))
	for i, c := range items {
		c.Category = q.Category
		c.Language = q.Language
		out[i] = c
	}
	return &domain.CandidatePage{Candidates: out, Done: true}, nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func stories(sourceID string, n int) []domain.ArticleCandidate {
	out := make([]domain.ArticleCandidate, n)
	for i := range out {
		title := fmt.Sprintf("Story number %d", i)
		body := fmt.Sprintf("<p>Body of story %d.</p>", i)
		out[i] = domain.ArticleCandidate{
			SourceID:    sourceID,
			ExternalID:  fmt.Sprintf("%s-%d", sourceID, i),
			Title:       title,
			Body:        body,
			PublishedAt: time.Date(2026, 10, 1, 8, i, 0, 0, time.UTC),
			Fingerprint: fingerprint.Compute(title, body),
		}
	}
	return out
}

// gatedArticles can fail chosen fingerprints and park the dispatcher right
// after the n-th successful insert.
type gatedArticles struct {
	*memory.ArticleStore

	failing map[string]bool
	after   int
	reached chan struct{}
	release chan struct{}

	mu       sync.Mutex
	inserted int
}

func (g *gatedArticles) Insert(ctx context.Context, a *domain.Article) (int64, error) {
	if g.failing[a.Fingerprint] {
		return 0, errors.New("disk full")
	}
	id, err := g.ArticleStore.Insert(ctx, a)
	if err != nil {
		return id, err
	}

	g.mu.Lock()
	g.inserted++
	n := g.inserted
	g.mu.Unlock()

	if g.after > 0 && n == g.after {
		close(g.reached)
		<-g.release
	}
	return id, nil
}

func (g *gatedArticles) gate(after int) {
	g.after = after
	g.reached = make(chan struct{})
	g.release = make(chan struct{})
}

type ControllerTestSuite struct {
	suite.Suite
	ctx context.Context

	jobs       *memory.JobStore
	articles   *gatedArticles
	cancels    *cancellation.MemoryRegistry
	wire       *fakeSource
	kabar      *fakeSource
	controller *Controller
}

func (s *ControllerTestSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s.jobs = memory.NewJobStore()
	s.articles = &gatedArticles{ArticleStore: memory.NewArticleStore()}
	s.cancels = cancellation.NewMemoryRegistry()
	s.wire = &fakeSource{id: "wire", langs: []domain.Language{domain.LanguageEnglish}}
	s.kabar = &fakeSource{id: "kabar", langs: []domain.Language{domain.LanguageIndonesian}}

	registry, err := source.NewRegistry(s.wire, s.kabar)
	s.Require().NoError(err)

	dispatcher := NewDispatcher(
		s.jobs,
		s.articles,
		memory.NewTagStore(),
		memory.NewSourceStateStore(),
		memory.TransactionManager{},
		registry,
		s.cancels,
		logger,
		DispatcherConfig{MaxAttempts: 1},
	)
	s.controller = NewController(s.jobs, registry, s.cancels, dispatcher, logger, ControllerConfig{MaxLimit: 100})
}

func (s *ControllerTestSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.NoError(s.controller.Shutdown(ctx))
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}

func (s *ControllerTestSuite) await(ch <-chan struct{}) {
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		s.FailNow("timed out waiting for dispatcher")
	}
}

func techRequest(limit int) domain.SyncRequest {
	return domain.SyncRequest{
		Categories: []string{"tech"},
		Language:   domain.LanguageEnglish,
		Limit:      limit,
	}
}

func (s *ControllerTestSuite) TestSync_TenUniqueThenRerun() {
	s.wire.items = stories("wire", 10)

	first, err := s.controller.SyncAndWait(s.ctx, techRequest(10))
	s.Require().NoError(err)
	s.Equal(domain.JobStatusSuccess, first.Status)
	s.Equal(10, first.TotalSynced)
	s.Equal(10, first.NewArticles)
	s.Equal(0, first.Duplicates)
	s.Empty(first.Errors)
	s.NotNil(first.StartedAt)
	s.NotNil(first.FinishedAt)

	second, err := s.controller.SyncAndWait(s.ctx, techRequest(10))
	s.Require().NoError(err)
	s.NotEqual(first.ID, second.ID)
	s.Equal(domain.JobStatusSuccess, second.Status)
	s.Equal(10, second.TotalSynced)
	s.Equal(0, second.NewArticles)
	s.Equal(10, second.Duplicates)
	s.Empty(second.Errors)

	s.Equal(10, s.articles.Count())
}

func (s *ControllerTestSuite) TestSync_StorageFailuresArePartial() {
	items := stories("wire", 5)
	s.wire.items = items
	s.articles.failing = map[string]bool{
		items[1].Fingerprint: true,
		items[3].Fingerprint: true,
	}

	job, err := s.controller.SyncAndWait(s.ctx, techRequest(0))
	s.Require().NoError(err)
	s.Equal(domain.JobStatusPartial, job.Status)
	s.Equal(3, job.TotalSynced)
	s.Equal(3, job.NewArticles)
	s.Equal(0, job.Duplicates)
	s.Len(job.Errors, 2)
}

func (s *ControllerTestSuite) TestSync_ConcurrentJobsNeverDoubleInsert() {
	s.wire.items = stories("wire", 10)

	var wg sync.WaitGroup
	results := make([]*domain.SyncJob, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := s.controller.SyncAndWait(s.ctx, techRequest(0))
			s.NoError(err)
			results[i] = job
		}(i)
	}
	wg.Wait()

	s.Require().NotNil(results[0])
	s.Require().NotNil(results[1])
	s.Equal(10, results[0].NewArticles+results[1].NewArticles)
	s.Equal(10, results[0].Duplicates+results[1].Duplicates)
	for _, job := range results {
		s.Equal(domain.JobStatusSuccess, job.Status)
		s.Equal(job.NewArticles+job.Duplicates, job.TotalSynced)
	}
	s.Equal(10, s.articles.Count())
}

func (s *ControllerTestSuite) TestCancel_MidRun() {
	s.wire.items = stories("wire", 10)
	s.articles.gate(4)

	id, err := s.controller.StartSync(s.ctx, techRequest(10))
	s.Require().NoError(err)
	s.await(s.articles.reached)

	s.Require().NoError(s.controller.Cancel(s.ctx, id))
	close(s.articles.release)

	job, err := s.controller.Wait(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.JobStatusCancelled, job.Status)
	s.LessOrEqual(job.TotalSynced, 4)
	s.Equal(job.NewArticles+job.Duplicates, job.TotalSynced)
	s.NotNil(job.FinishedAt)

	raised, err := s.cancels.IsRaised(s.ctx, id)
	s.NoError(err)
	s.False(raised)
}

func (s *ControllerTestSuite) TestCancel_TerminalJobIsNoop() {
	s.wire.items = stories("wire", 2)

	job, err := s.controller.SyncAndWait(s.ctx, techRequest(0))
	s.Require().NoError(err)
	s.Require().NotNil(job.FinishedAt)

	s.NoError(s.controller.Cancel(s.ctx, job.ID))

	after, err := s.controller.Get(s.ctx, job.ID)
	s.Require().NoError(err)
	s.Equal(job.Status, after.Status)
	s.True(job.FinishedAt.Equal(*after.FinishedAt))

	raised, err := s.cancels.IsRaised(s.ctx, job.ID)
	s.NoError(err)
	s.False(raised)
}

func (s *ControllerTestSuite) TestRetry_FailedJob() {
	s.wire.items = stories("wire", 3)
	s.wire.setErr(fmt.Errorf("%w: wire: status 503", domain.ErrProviderUnavailable))

	original, err := s.controller.SyncAndWait(s.ctx, techRequest(0))
	s.Require().NoError(err)
	s.Equal(domain.JobStatusFailed, original.Status)
	s.Len(original.Errors, 1)
	s.Equal(0, original.TotalSynced)

	s.wire.setErr(nil)

	retried, err := s.controller.RetryAndWait(s.ctx, original.ID)
	s.Require().NoError(err)
	s.NotEqual(original.ID, retried.ID)
	s.Equal(original.ID, retried.RetryOf)
	s.Equal(original.Request, retried.Request)
	s.Equal(domain.JobStatusSuccess, retried.Status)
	s.Equal(3, retried.NewArticles)

	unchanged, err := s.controller.Get(s.ctx, original.ID)
	s.Require().NoError(err)
	s.Equal(*original, *unchanged)
}

func (s *ControllerTestSuite) TestRetry_ActiveJobIsInvalidState() {
	s.wire.items = stories("wire", 3)
	s.articles.gate(1)

	id, err := s.controller.StartSync(s.ctx, techRequest(0))
	s.Require().NoError(err)
	s.await(s.articles.reached)

	_, err = s.controller.Retry(s.ctx, id)
	s.ErrorIs(err, domain.ErrInvalidState)

	close(s.articles.release)
	job, err := s.controller.Wait(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.JobStatusSuccess, job.Status)
}

func (s *ControllerTestSuite) TestUnknownJob() {
	s.ErrorIs(s.controller.Cancel(s.ctx, "missing"), domain.ErrNotFound)

	_, err := s.controller.Retry(s.ctx, "missing")
	s.ErrorIs(err, domain.ErrNotFound)

	_, err = s.controller.Get(s.ctx, "missing")
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *ControllerTestSuite) TestStartSync_InvalidRequests() {
	tests := []struct {
		name string
		req  domain.SyncRequest
	}{
		{name: "no categories", req: domain.SyncRequest{Language: domain.LanguageEnglish}},
		{name: "blank categories", req: domain.SyncRequest{Categories: []string{" ", ""}, Language: domain.LanguageEnglish}},
		{name: "unsupported language", req: domain.SyncRequest{Categories: []string{"tech"}, Language: "FRENCH"}},
		{name: "negative limit", req: domain.SyncRequest{Categories: []string{"tech"}, Language: domain.LanguageEnglish, Limit: -1}},
		{name: "limit above max", req: domain.SyncRequest{Categories: []string{"tech"}, Language: domain.LanguageEnglish, Limit: 101}},
		{name: "unknown source", req: domain.SyncRequest{Categories: []string{"tech"}, Language: domain.LanguageEnglish, Sources: []string{"nope"}}},
		{name: "source without language", req: domain.SyncRequest{Categories: []string{"tech"}, Language: domain.LanguageEnglish, Sources: []string{"kabar"}}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.controller.StartSync(s.ctx, tt.req)
			s.ErrorIs(err, domain.ErrInvalidRequest)
		})
	}

	jobs, err := s.controller.History(s.ctx, domain.HistoryFilter{})
	s.Require().NoError(err)
	s.Empty(jobs)
}

func (s *ControllerTestSuite) TestStartSync_NormalizesRequest() {
	id, err := s.controller.StartSync(s.ctx, domain.SyncRequest{
		Categories: []string{" Tech", "tech", "ECONOMY"},
		Language:   "english",
		Sources:    []string{"WIRE", "wire"},
	})
	s.Require().NoError(err)

	job, err := s.controller.Wait(s.ctx, id)
	s.Require().NoError(err)
	s.Equal([]string{"tech", "economy"}, job.Request.Categories)
	s.Equal(domain.LanguageEnglish, job.Request.Language)
	s.Equal([]string{"wire"}, job.Request.Sources)
}

func (s *ControllerTestSuite) TestHistory() {
	s.wire.items = stories("wire", 1)
	s.kabar.items = stories("kabar", 1)

	english, err := s.controller.SyncAndWait(s.ctx, techRequest(0))
	s.Require().NoError(err)
	indonesian, err := s.controller.SyncAndWait(s.ctx, domain.SyncRequest{
		Categories: []string{"ekonomi"},
		Language:   domain.LanguageIndonesian,
	})
	s.Require().NoError(err)

	all, err := s.controller.History(s.ctx, domain.HistoryFilter{})
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(indonesian.ID, all[0].ID)
	s.Equal(english.ID, all[1].ID)

	filtered, err := s.controller.History(s.ctx, domain.HistoryFilter{Language: "english"})
	s.Require().NoError(err)
	s.Require().Len(filtered, 1)
	s.Equal(english.ID, filtered[0].ID)

	_, err = s.controller.History(s.ctx, domain.HistoryFilter{Status: "done"})
	s.ErrorIs(err, domain.ErrInvalidRequest)

	_, err = s.controller.History(s.ctx, domain.HistoryFilter{Offset: -1})
	s.ErrorIs(err, domain.ErrInvalidRequest)
}

func (s *ControllerTestSuite) TestShutdown_CancelsRunningJobs() {
	s.wire.items = stories("wire", 5)
	s.articles.gate(1)

	id, err := s.controller.StartSync(s.ctx, techRequest(0))
	s.Require().NoError(err)
	s.await(s.articles.reached)

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- s.controller.Shutdown(s.ctx)
	}()
	s.Eventually(func() bool { return s.controller.baseCtx.Err() != nil }, 5*time.Second, 5*time.Millisecond)
	close(s.articles.release)

	s.NoError(<-shutdownErr)

	job, err := s.jobs.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.JobStatusCancelled, job.Status)
	s.Equal(1, job.NewArticles)

	_, err = s.controller.StartSync(s.ctx, techRequest(0))
	s.ErrorIs(err, ErrShuttingDown)
}

func TestController_CancelClearsSignalWhenJobFinishedMeanwhile(t *testing.T) {
	ctrl := gomock.NewController(t)
	jobs := mocks.NewMockJobStore(ctrl)
	cancels := mocks.NewMockCancelRegistry(ctrl)
	resolver := mocks.NewMockSourceResolver(ctrl)
	runner := mocks.NewMockJobRunner(ctrl)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	c := NewController(jobs, resolver, cancels, runner, logger, ControllerConfig{})
	ctx := context.Background()

	gomock.InOrder(
		jobs.EXPECT().Get(ctx, "job-1").Return(&domain.SyncJob{ID: "job-1", Status: domain.JobStatusRunning}, nil),
		cancels.EXPECT().Raise(ctx, "job-1").Return(nil),
		jobs.EXPECT().Get(ctx, "job-1").Return(&domain.SyncJob{ID: "job-1", Status: domain.JobStatusSuccess}, nil),
		cancels.EXPECT().Clear(ctx, "job-1").Return(nil),
	)

	if err := c.Cancel(ctx, "job-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestController_JobCreatedDuringShutdownIsFinalized(t *testing.T) {
	wire := &fakeSource{id: "wire", langs: []domain.Language{domain.LanguageEnglish}}
	failed := &domain.SyncJob{ID: "old", Status: domain.JobStatusFailed, Request: techRequest(5)}

	tests := []struct {
		name  string
		start func(c *Controller, jobs *mocks.MockJobStore) (string, error)
	}{
		{
			name: "start",
			start: func(c *Controller, _ *mocks.MockJobStore) (string, error) {
				return c.StartSync(context.Background(), techRequest(5))
			},
		},
		{
			name: "retry",
			start: func(c *Controller, jobs *mocks.MockJobStore) (string, error) {
				jobs.EXPECT().Get(gomock.Any(), "old").Return(failed, nil)
				return c.Retry(context.Background(), "old")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			jobs := mocks.NewMockJobStore(ctrl)
			resolver := mocks.NewMockSourceResolver(ctrl)
			runner := mocks.NewMockJobRunner(ctrl)
			logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

			resolver.EXPECT().ForLanguage(domain.LanguageEnglish).Return([]source.Source{wire}).AnyTimes()
			c := NewController(jobs, resolver, cancellation.NewMemoryRegistry(), runner, logger, ControllerConfig{})

			// shutdown lands between the insert and the hand-off to a runner
			jobs.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).
				DoAndReturn(func(ctx context.Context, req domain.SyncRequest, retryOf string) (*domain.SyncJob, error) {
					if err := c.Shutdown(ctx); err != nil {
						t.Fatalf("shutdown: %v", err)
					}
					return &domain.SyncJob{ID: "new", Request: req, RetryOf: retryOf, Status: domain.JobStatusPending}, nil
				})
			jobs.EXPECT().
				SetStatus(gomock.Any(), "new", domain.JobStatusCancelled, gomock.Not(gomock.Nil())).
				Return(nil)
			runner.EXPECT().Run(gomock.Any(), gomock.Any()).Times(0)

			id, err := tt.start(c, jobs)
			if !errors.Is(err, ErrShuttingDown) {
				t.Fatalf("expected ErrShuttingDown, got %v", err)
			}
			if id != "" {
				t.Fatalf("expected no job id, got %q", id)
			}
		})
	}
}
