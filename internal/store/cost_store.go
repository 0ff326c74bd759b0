package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/model"
)

// CostEntryRepository persists model.CostEntry rows.
type CostEntryRepository struct {
	db *sqlx.DB
}

// NewCostEntryRepository wraps db for cost-entry persistence.
func NewCostEntryRepository(db *sqlx.DB) *CostEntryRepository {
	return &CostEntryRepository{db: db}
}

type costEntryRow struct {
	ID        uuid.UUID       `db:"id"`
	TaskID    uuid.UUID       `db:"task_id"`
	ChannelID uuid.UUID       `db:"channel_id"`
	Component string          `db:"component"`
	Units     float64         `db:"units"`
	CostUSD   float64         `db:"cost_usd"`
	APICalls  int             `db:"api_calls"`
	Metadata  json.RawMessage `db:"metadata"`
	CreatedAt time.Time       `db:"created_at"`
}

func (r costEntryRow) toModel() model.CostEntry {
	e := model.CostEntry{
		ID:        r.ID,
		TaskID:    r.TaskID,
		ChannelID: r.ChannelID,
		Component: model.CostComponent(r.Component),
		Units:     r.Units,
		CostUSD:   r.CostUSD,
		APICalls:  r.APICalls,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &e.Metadata)
	}
	return e
}

// Record inserts one cost entry. Cost entries are never updated; a
// correction is a new entry, preserving the full charge history.
func (r *CostEntryRepository) Record(ctx context.Context, e model.CostEntry) (model.CostEntry, error) {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return model.CostEntry{}, orcherrors.FailedTo("marshal cost entry metadata", err)
	}

	const q = `
INSERT INTO cost_entries (task_id, channel_id, component, units, cost_usd, api_calls, metadata)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING *`
	var row costEntryRow
	err = r.db.GetContext(ctx, &row, r.db.Rebind(q),
		e.TaskID, e.ChannelID, e.Component, e.Units, e.CostUSD, e.APICalls, meta,
	)
	if err != nil {
		return model.CostEntry{}, orcherrors.FailedToWithDetails("record cost entry", "store", e.TaskID.String(), err)
	}
	return row.toModel(), nil
}

// SumUSDForChannelToday returns the total cost_usd recorded for a
// channel since UTC midnight. Nothing in this module calls it, and
// DailySpendCapUSD is not checked against it.
func (r *CostEntryRepository) SumUSDForChannelToday(ctx context.Context, channelID uuid.UUID) (float64, error) {
	const q = `
SELECT COALESCE(SUM(cost_usd), 0) FROM cost_entries
WHERE channel_id = $1 AND created_at >= date_trunc('day', now() AT TIME ZONE 'UTC')`
	var total float64
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(q), channelID); err != nil {
		return 0, orcherrors.FailedToWithDetails("sum channel spend", "store", channelID.String(), err)
	}
	return total, nil
}
