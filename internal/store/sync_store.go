package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
)

// SyncObservationRepository backs the inbound reconciler's idempotency
// law L3: an observation already recorded for (page, status_label,
// updated_at) is a no-op on replay (poll re-delivering the same row, or
// a webhook retry).
type SyncObservationRepository struct {
	db *sqlx.DB
}

// NewSyncObservationRepository wraps db for sync-observation persistence.
func NewSyncObservationRepository(db *sqlx.DB) *SyncObservationRepository {
	return &SyncObservationRepository{db: db}
}

// RecordIfNew inserts the observation and returns true if this is the
// first time it has been seen, false if it was already recorded.
func (r *SyncObservationRepository) RecordIfNew(ctx context.Context, page, statusLabel string, updatedAt time.Time) (bool, error) {
	const q = `
INSERT INTO sync_observations (page, status_label, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (page, status_label, updated_at) DO NOTHING`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), page, statusLabel, updatedAt)
	if err != nil {
		return false, orcherrors.FailedToWithDetails("record sync observation", "store", page, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, orcherrors.FailedToWithDetails("check sync observation result", "store", page, err)
	}
	return n > 0, nil
}

// LatestObservedUpdatedAt returns the most recent updated_at recorded
// for page. The outbound mirror does not consult it: mirror posts go
// out in queue order without comparing updated_at against earlier ones.
func (r *SyncObservationRepository) LatestObservedUpdatedAt(ctx context.Context, page string) (time.Time, bool, error) {
	const q = `
SELECT updated_at FROM sync_observations
WHERE page = $1 ORDER BY updated_at DESC LIMIT 1`
	var t time.Time
	err := r.db.GetContext(ctx, &t, r.db.Rebind(q), page)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, orcherrors.FailedToWithDetails("get latest sync observation", "store", page, err)
	}
	return t, true, nil
}
