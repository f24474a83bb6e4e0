package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"news_sync/internal/domain"
)

// SourceStateStore keeps cumulative per-source totals.
type SourceStateStore struct {
	db *sqlx.DB
}

func NewSourceStateStore(db *sqlx.DB) *SourceStateStore {
	return &SourceStateStore{db: db}
}

func (s *SourceStateStore) Get(ctx context.Context, sourceID string) (*domain.SourceState, error) {
	var state domain.SourceState
	query := `
		SELECT id, source_id, last_synced_at, last_job_id, total_synced
		FROM source_state
		WHERE source_id = $1`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &state, query, sourceID)
	if errors.Is(err, sql.ErrNoRows) {
		// unseen sources start from zero
		return &domain.SourceState{SourceID: sourceID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *SourceStateStore) Update(ctx context.Context, state *domain.SourceState) error {
	query := `
		INSERT INTO source_state (source_id, last_synced_at, last_job_id, total_synced)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			last_job_id = EXCLUDED.last_job_id,
			total_synced = EXCLUDED.total_synced`

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query,
		state.SourceID,
		state.LastSyncedAt,
		state.LastJobID,
		state.TotalSynced,
	)
	return err
}
