package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"news_sync/internal/domain"
	"news_sync/internal/source"
)

type JobStore interface {
	Create(ctx context.Context, req domain.SyncRequest, retryOf string) (*domain.SyncJob, error)
	Get(ctx context.Context, id string) (*domain.SyncJob, error)
	List(ctx context.Context, filter domain.HistoryFilter) ([]domain.SyncJob, error)
	UpdateProgress(ctx context.Context, id string, delta domain.Progress) error
	SetStatus(ctx context.Context, id string, status domain.JobStatus, finishedAt *time.Time) error
}

type ArticleStore interface {
	Insert(ctx context.Context, article *domain.Article) (int64, error)
	ExistsFingerprint(ctx context.Context, fingerprint string) (bool, error)
}

type TagStore interface {
	Ensure(ctx context.Context, labels []string) ([]int64, error)
	LinkToArticle(ctx context.Context, articleID int64, tagIDs []int64) error
}

type SourceStateStore interface {
	Get(ctx context.Context, sourceID string) (*domain.SourceState, error)
	Update(ctx context.Context, state *domain.SourceState) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Source mirrors source.Source so mockgen generates a mock for it.
type Source interface {
	ID() string
	Name() string
	Languages() []domain.Language
	Fetch(ctx context.Context, q domain.SourceQuery) (*domain.CandidatePage, error)
}

type SourceResolver interface {
	Lookup(id string) (source.Source, bool)
	ForLanguage(lang domain.Language) []source.Source
}

type Publisher interface {
	Publish(ctx context.Context, article *domain.Article) error
}

type CancelRegistry interface {
	Raise(ctx context.Context, jobID string) error
	IsRaised(ctx context.Context, jobID string) (bool, error)
	Clear(ctx context.Context, jobID string) error
}

type Metrics interface {
	CandidateProcessed(sourceID, outcome string)
	JobStarted()
	JobFinished(status domain.JobStatus, elapsed time.Duration)
}

// JobRunner executes one job to a terminal status.
type JobRunner interface {
	Run(ctx context.Context, job *domain.SyncJob) (*domain.SyncStats, error)
}
