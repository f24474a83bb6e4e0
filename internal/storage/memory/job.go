// Package memory provides process-local stores for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"news_sync/internal/domain"
)

type jobRecord struct {
	seq int64
	job domain.SyncJob
}

// JobStore keeps jobs in a map guarded by one mutex; every read returns a
// snapshot copy.
type JobStore struct {
	mu   sync.RWMutex
	seq  int64
	jobs map[string]*jobRecord
	now  func() time.Time
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]*jobRecord),
		now:  time.Now,
	}
}

func (s *JobStore) Create(_ context.Context, req domain.SyncRequest, retryOf string) (*domain.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	job := domain.SyncJob{
		ID:        uuid.NewString(),
		Request:   req.Clone(),
		Status:    domain.JobStatusPending,
		RetryOf:   retryOf,
		CreatedAt: s.now().UTC(),
	}
	s.jobs[job.ID] = &jobRecord{seq: s.seq, job: job}

	out := job.Clone()
	return &out, nil
}

func (s *JobStore) Get(_ context.Context, id string) (*domain.SyncJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	out := rec.job.Clone()
	return &out, nil
}

func (s *JobStore) List(_ context.Context, filter domain.HistoryFilter) ([]domain.SyncJob, error) {
	s.mu.RLock()
	recs := make([]*jobRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		if filter.Status != "" && rec.job.Status != filter.Status {
			continue
		}
		if filter.Language != "" && rec.job.Request.Language != filter.Language {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })

	out := make([]domain.SyncJob, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.job.Clone())
	}
	s.mu.RUnlock()

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []domain.SyncJob{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *JobStore) UpdateProgress(_ context.Context, id string, delta domain.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if rec.job.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", id, rec.job.Status, domain.ErrInvalidState)
	}
	rec.job.NewArticles += delta.NewArticles
	rec.job.Duplicates += delta.Duplicates
	rec.job.TotalSynced = rec.job.NewArticles + rec.job.Duplicates
	rec.job.Errors = append(rec.job.Errors, delta.Errors...)
	return nil
}

func (s *JobStore) SetStatus(_ context.Context, id string, status domain.JobStatus, finishedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if rec.job.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", id, rec.job.Status, domain.ErrInvalidState)
	}

	rec.job.Status = status
	if status == domain.JobStatusRunning && rec.job.StartedAt == nil {
		started := s.now().UTC()
		rec.job.StartedAt = &started
	}
	if finishedAt != nil {
		t := finishedAt.UTC()
		rec.job.FinishedAt = &t
	}
	return nil
}
