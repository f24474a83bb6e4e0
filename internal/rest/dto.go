package rest

import (
	"time"

	"news_sync/internal/domain"
)

type syncNewsRequest struct {
	Categories []string `json:"categories"`
	Language   string   `json:"language"`
	Sources    []string `json:"sources,omitempty"`
	Limit      *int     `json:"limit,omitempty"`
}

func (r syncNewsRequest) toDomain() domain.SyncRequest {
	req := domain.SyncRequest{
		Categories: r.Categories,
		Language:   domain.Language(r.Language),
		Sources:    r.Sources,
	}
	if r.Limit != nil {
		req.Limit = *r.Limit
	}
	return req
}

type syncResponse struct {
	ID          string   `json:"id"`
	Status      string   `json:"status"`
	TotalSynced int      `json:"totalSynced"`
	Errors      []string `json:"errors"`
	Duplicates  int      `json:"duplicates"`
	NewArticles int      `json:"newArticles"`
}

func newSyncResponse(job *domain.SyncJob) syncResponse {
	resp := syncResponse{
		ID:          job.ID,
		Status:      string(job.Status),
		TotalSynced: job.TotalSynced,
		Duplicates:  job.Duplicates,
		NewArticles: job.NewArticles,
	}
	// errors is null, not [], when nothing failed
	if len(job.Errors) > 0 {
		resp.Errors = job.Errors
	}
	return resp
}

type acceptedResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type historyItem struct {
	ID          string    `json:"id"`
	SyncedAt    time.Time `json:"syncedAt"`
	TotalSynced int       `json:"totalSynced"`
	Language    string    `json:"language"`
	Categories  []string  `json:"categories"`
	Status      string    `json:"status"`
	State       string    `json:"state"`
}

type historyResponse struct {
	Data []historyItem `json:"data"`
}

func newHistoryItem(job domain.SyncJob) historyItem {
	syncedAt := job.CreatedAt
	if job.FinishedAt != nil {
		syncedAt = *job.FinishedAt
	}
	categories := job.Request.Categories
	if categories == nil {
		categories = []string{}
	}
	return historyItem{
		ID:          job.ID,
		SyncedAt:    syncedAt,
		TotalSynced: job.TotalSynced,
		Language:    string(job.Request.Language),
		Categories:  categories,
		Status:      historyStatus(job),
		State:       string(job.Status),
	}
}

// historyStatus folds the job lifecycle into the three values history
// clients understand. Cancelled jobs report partial when they stored
// anything, failed otherwise. Active jobs report partial until they finish.
func historyStatus(job domain.SyncJob) string {
	switch job.Status {
	case domain.JobStatusSuccess, domain.JobStatusPartial, domain.JobStatusFailed:
		return string(job.Status)
	case domain.JobStatusCancelled:
		if job.TotalSynced > 0 {
			return string(domain.JobStatusPartial)
		}
		return string(domain.JobStatusFailed)
	default:
		return string(domain.JobStatusPartial)
	}
}

type jobResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	RetryOf     string     `json:"retryOf,omitempty"`
	Categories  []string   `json:"categories"`
	Language    string     `json:"language"`
	Sources     []string   `json:"sources"`
	Limit       int        `json:"limit"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt"`
	TotalSynced int        `json:"totalSynced"`
	NewArticles int        `json:"newArticles"`
	Duplicates  int        `json:"duplicates"`
	Errors      []string   `json:"errors"`
}

func newJobResponse(job *domain.SyncJob) jobResponse {
	resp := jobResponse{
		ID:          job.ID,
		Status:      string(job.Status),
		RetryOf:     job.RetryOf,
		Categories:  job.Request.Categories,
		Language:    string(job.Request.Language),
		Sources:     job.Request.Sources,
		Limit:       job.Request.Limit,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
		TotalSynced: job.TotalSynced,
		NewArticles: job.NewArticles,
		Duplicates:  job.Duplicates,
	}
	if len(job.Errors) > 0 {
		resp.Errors = job.Errors
	}
	return resp
}
