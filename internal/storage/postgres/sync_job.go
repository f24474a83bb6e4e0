package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"news_sync/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const jobColumns = `id, categories, language, sources, request_limit, status, retry_of,
	created_at, started_at, finished_at, total_synced, new_articles, duplicates, errors`

type jobRow struct {
	ID           string         `db:"id"`
	Categories   pq.StringArray `db:"categories"`
	Language     string         `db:"language"`
	Sources      pq.StringArray `db:"sources"`
	RequestLimit int            `db:"request_limit"`
	Status       string         `db:"status"`
	RetryOf      sql.NullString `db:"retry_of"`
	CreatedAt    time.Time      `db:"created_at"`
	StartedAt    sql.NullTime   `db:"started_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
	TotalSynced  int            `db:"total_synced"`
	NewArticles  int            `db:"new_articles"`
	Duplicates   int            `db:"duplicates"`
	Errors       pq.StringArray `db:"errors"`
}

func (r jobRow) toDomain() domain.SyncJob {
	job := domain.SyncJob{
		ID: r.ID,
		Request: domain.SyncRequest{
			Categories: []string(r.Categories),
			Language:   domain.Language(r.Language),
			Sources:    []string(r.Sources),
			Limit:      r.RequestLimit,
		},
		Status:      domain.JobStatus(r.Status),
		RetryOf:     r.RetryOf.String,
		CreatedAt:   r.CreatedAt.UTC(),
		TotalSynced: r.TotalSynced,
		NewArticles: r.NewArticles,
		Duplicates:  r.Duplicates,
		Errors:      []string(r.Errors),
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time.UTC()
		job.StartedAt = &t
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time.UTC()
		job.FinishedAt = &t
	}
	return job
}

// JobStore persists sync jobs. Counter updates are single statements so
// concurrent progress writes never lose increments.
type JobStore struct {
	db *sqlx.DB
}

func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, req domain.SyncRequest, retryOf string) (*domain.SyncJob, error) {
	query := `
		INSERT INTO sync_jobs (id, categories, language, sources, request_limit, status, retry_of)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + jobColumns

	var retry sql.NullString
	if retryOf != "" {
		retry = sql.NullString{String: retryOf, Valid: true}
	}

	var row jobRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query,
		uuid.NewString(),
		pq.StringArray(req.Categories),
		req.Language,
		pq.StringArray(nonNil(req.Sources)),
		req.Limit,
		domain.JobStatusPending,
		retry,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: create job: %v", domain.ErrStorageFailure, err)
	}

	job := row.toDomain()
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*domain.SyncJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}

	var row jobRow
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row,
		"SELECT "+jobColumns+" FROM sync_jobs WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get job: %v", domain.ErrStorageFailure, err)
	}

	job := row.toDomain()
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter domain.HistoryFilter) ([]domain.SyncJob, error) {
	builder := psql.Select(jobColumns).
		From("sync_jobs").
		OrderBy("created_at DESC", "id DESC")

	if filter.Status != "" {
		builder = builder.Where(sq.Eq{"status": filter.Status})
	}
	if filter.Language != "" {
		builder = builder.Where(sq.Eq{"language": filter.Language})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	var rows []jobRow
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", domain.ErrStorageFailure, err)
	}

	jobs := make([]domain.SyncJob, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.toDomain())
	}
	return jobs, nil
}

func (s *JobStore) UpdateProgress(ctx context.Context, id string, delta domain.Progress) error {
	query, args, err := psql.Update("sync_jobs").
		Set("new_articles", sq.Expr("new_articles + ?", delta.NewArticles)).
		Set("duplicates", sq.Expr("duplicates + ?", delta.Duplicates)).
		Set("total_synced", sq.Expr("total_synced + ?", delta.NewArticles+delta.Duplicates)).
		Set("errors", sq.Expr("errors || ?::text[]", pq.StringArray(nonNil(delta.Errors)))).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": terminalStrings()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build progress update: %w", err)
	}

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update progress: %v", domain.ErrStorageFailure, err)
	}
	return s.checkAffected(ctx, id, res)
}

func (s *JobStore) SetStatus(ctx context.Context, id string, status domain.JobStatus, finishedAt *time.Time) error {
	builder := psql.Update("sync_jobs").
		Set("status", status).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"status": terminalStrings()})

	if status == domain.JobStatusRunning {
		builder = builder.Set("started_at", sq.Expr("COALESCE(started_at, NOW())"))
	}
	if finishedAt != nil {
		builder = builder.Set("finished_at", finishedAt.UTC())
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build status update: %w", err)
	}

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: set status: %v", domain.ErrStorageFailure, err)
	}
	return s.checkAffected(ctx, id, res)
}

// checkAffected distinguishes a missing job from one that is already final
// when a guarded update touched no rows.
func (s *JobStore) checkAffected(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", domain.ErrStorageFailure, err)
	}
	if n > 0 {
		return nil
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s: %w", id, job.Status, domain.ErrInvalidState)
}

func terminalStrings() []string {
	out := make([]string, len(domain.TerminalStatuses))
	for i, st := range domain.TerminalStatuses {
		out[i] = string(st)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
