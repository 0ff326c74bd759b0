package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/model"
)

// UploadQuotaRepository persists the per-(channel, UTC day) quota
// ledger backing spec.md §4.6's reservation scheme.
type UploadQuotaRepository struct {
	db *sqlx.DB
}

// NewUploadQuotaRepository wraps db for quota-ledger persistence.
func NewUploadQuotaRepository(db *sqlx.DB) *UploadQuotaRepository {
	return &UploadQuotaRepository{db: db}
}

type quotaRow struct {
	ChannelID uuid.UUID `db:"channel_id"`
	Date      time.Time `db:"date"`
	Used      float64   `db:"used"`
	Ceiling   float64   `db:"ceiling"`
}

func (r quotaRow) toModel() model.UploadQuotaLedger {
	return model.UploadQuotaLedger{
		ChannelID: r.ChannelID,
		Date:      r.Date,
		Used:      r.Used,
		Ceiling:   r.Ceiling,
	}
}

// ReserveWithinTx atomically checks remaining headroom and, if units
// fits, increments Used — all inside tx so the caller's WithTx wraps it
// in the same short transaction as the surrounding state update. It
// must never be called with a subprocess or network call in between
// select and update (spec.md §4.1, P3); this method itself takes no
// longer than a single round trip.
func ReserveWithinTx(ctx context.Context, tx *sqlx.Tx, channelID uuid.UUID, units, defaultCeiling float64) (bool, error) {
	const upsertQ = `
INSERT INTO upload_quota_ledger (channel_id, date, used, ceiling)
VALUES ($1, (now() AT TIME ZONE 'UTC')::date, 0, $2)
ON CONFLICT (channel_id, date) DO NOTHING`
	if _, err := tx.ExecContext(ctx, tx.Rebind(upsertQ), channelID, defaultCeiling); err != nil {
		return false, orcherrors.FailedToWithDetails("initialize quota ledger row", "store", channelID.String(), err)
	}

	const reserveQ = `
UPDATE upload_quota_ledger
SET used = used + $2
WHERE channel_id = $1 AND date = (now() AT TIME ZONE 'UTC')::date AND used + $2 <= ceiling
RETURNING used`
	var used float64
	err := tx.GetContext(ctx, &used, tx.Rebind(reserveQ), channelID, units)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, orcherrors.FailedToWithDetails("reserve upload quota", "store", channelID.String(), err)
	}
	return true, nil
}

// Get returns today's ledger row for channelID, or a zero-used row
// against defaultCeiling if none exists yet.
func (r *UploadQuotaRepository) Get(ctx context.Context, channelID uuid.UUID, defaultCeiling float64) (model.UploadQuotaLedger, error) {
	const q = `
SELECT * FROM upload_quota_ledger
WHERE channel_id = $1 AND date = (now() AT TIME ZONE 'UTC')::date`
	var row quotaRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(q), channelID)
	if err != nil {
		return model.UploadQuotaLedger{ChannelID: channelID, Ceiling: defaultCeiling}, nil
	}
	return row.toModel(), nil
}
