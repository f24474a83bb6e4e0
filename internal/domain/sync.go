package domain

import "time"

// SyncRequest is the immutable input of a sync job.
type SyncRequest struct {
	Categories []string
	Language   Language
	Sources    []string // empty means every source serving Language
	Limit      int      // 0 means uncapped
}

// Clone returns a deep copy so stored jobs never share slices with callers.
func (r SyncRequest) Clone() SyncRequest {
	out := r
	out.Categories = append([]string(nil), r.Categories...)
	out.Sources = append([]string(nil), r.Sources...)
	return out
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// TerminalStatuses lists every final status.
var TerminalStatuses = []JobStatus{JobStatusSuccess, JobStatusPartial, JobStatusFailed, JobStatusCancelled}

// SyncJob is one ingestion run.
type SyncJob struct {
	ID          string
	Request     SyncRequest
	Status      JobStatus
	RetryOf     string
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	TotalSynced int
	NewArticles int
	Duplicates  int
	Errors      []string
}

// Clone returns a point-in-time snapshot detached from the original.
func (j SyncJob) Clone() SyncJob {
	out := j
	out.Request = j.Request.Clone()
	out.Errors = append([]string(nil), j.Errors...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

// Progress is a counter delta applied atomically to a job.
type Progress struct {
	NewArticles int
	Duplicates  int
	Errors      []string
}

func (p Progress) Empty() bool {
	return p.NewArticles == 0 && p.Duplicates == 0 && len(p.Errors) == 0
}

// FinalStatus derives the terminal status from accumulated counters.
func FinalStatus(newArticles, duplicates, errCount int) JobStatus {
	switch {
	case errCount == 0:
		return JobStatusSuccess
	case newArticles+duplicates == 0:
		return JobStatusFailed
	default:
		return JobStatusPartial
	}
}

// HistoryFilter narrows job listings. Zero values mean "any".
type HistoryFilter struct {
	Status   JobStatus
	Language Language
	Limit    int
	Offset   int
}

// SourceQuery asks a provider for one page of candidates.
type SourceQuery struct {
	Category string
	Language Language
	Cursor   string
	Limit    int // remaining global budget, 0 when uncapped
}

// CandidatePage is one provider page. ItemErrors describe items that were
// skipped because the provider returned malformed data for them.
type CandidatePage struct {
	Candidates []ArticleCandidate
	ItemErrors []string
	NextCursor string
	Done       bool
}

// SyncStats summarizes a finished dispatch for logging and metrics.
type SyncStats struct {
	JobID      string
	Processed  int
	New        int
	Duplicates int
	Errors     int
	PerSource  map[string]int
	Cancelled  bool
	Duration   time.Duration
}
