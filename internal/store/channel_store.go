// Package store is the repository layer: one type per table, each a
// thin wrapper over *sqlx.DB translating between pkg/model structs and
// SQL rows. No component above this layer writes raw SQL.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/model"
)

// ChannelRepository persists model.Channel rows. It satisfies
// internal/channelreg.ChannelStore.
type ChannelRepository struct {
	db *sqlx.DB
}

// NewChannelRepository wraps db for channel persistence.
func NewChannelRepository(db *sqlx.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

type channelRow struct {
	ID                    uuid.UUID      `db:"id"`
	ChannelID             string         `db:"channel_id"`
	ChannelName           string         `db:"channel_name"`
	PlanningDBDatabaseID  string         `db:"planning_db_database_id"`
	Active                bool           `db:"active"`
	PriorityWeight        int            `db:"priority_weight"`
	MaxConcurrent         int            `db:"max_concurrent"`
	VoiceID               string         `db:"voice_id"`
	IntroPath             string         `db:"intro_path"`
	OutroPath             string         `db:"outro_path"`
	StorageStrategy       string         `db:"storage_strategy"`
	UploadPrivacyDefault  string         `db:"upload_privacy_default"`
	DailySpendCapUSD      sql.NullFloat64 `db:"daily_spend_cap_usd"`
	EncPlanningDBToken    []byte         `db:"enc_planning_db_token"`
	EncUploadRefreshToken []byte         `db:"enc_upload_refresh_token"`
	EncProviderKeys       []byte         `db:"enc_provider_keys"`
	CreatedAt             sql.NullTime   `db:"created_at"`
	UpdatedAt             sql.NullTime   `db:"updated_at"`
}

func (r channelRow) toModel() model.Channel {
	c := model.Channel{
		ID:                    r.ID,
		ChannelID:             r.ChannelID,
		ChannelName:           r.ChannelName,
		PlanningDBDatabaseID:  r.PlanningDBDatabaseID,
		Active:                r.Active,
		PriorityWeight:        r.PriorityWeight,
		MaxConcurrent:         r.MaxConcurrent,
		VoiceID:               r.VoiceID,
		IntroPath:             r.IntroPath,
		OutroPath:             r.OutroPath,
		StorageStrategy:       model.StorageStrategy(r.StorageStrategy),
		UploadPrivacyDefault:  model.UploadPrivacy(r.UploadPrivacyDefault),
		EncPlanningDBToken:    r.EncPlanningDBToken,
		EncUploadRefreshToken: r.EncUploadRefreshToken,
		EncProviderKeys:       r.EncProviderKeys,
		CreatedAt:             r.CreatedAt.Time,
		UpdatedAt:             r.UpdatedAt.Time,
	}
	if r.DailySpendCapUSD.Valid {
		v := r.DailySpendCapUSD.Float64
		c.DailySpendCapUSD = &v
	}
	return c
}

// UpsertChannel inserts c or, if channel_id already exists, updates the
// mutable fields in place. The row's UUID is never reassigned by an
// update, matching spec.md's "channel identity is the stable
// channel_id, never re-minted" invariant.
func (r *ChannelRepository) UpsertChannel(ctx context.Context, c model.Channel) (model.Channel, error) {
	var capArg any
	if c.DailySpendCapUSD != nil {
		capArg = *c.DailySpendCapUSD
	}

	const q = `
INSERT INTO channels (
	channel_id, channel_name, planning_db_database_id, active,
	priority_weight, max_concurrent, voice_id, intro_path, outro_path,
	storage_strategy, upload_privacy_default, daily_spend_cap_usd,
	enc_planning_db_token, enc_upload_refresh_token, enc_provider_keys
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
)
ON CONFLICT (channel_id) DO UPDATE SET
	channel_name = EXCLUDED.channel_name,
	active = EXCLUDED.active,
	priority_weight = EXCLUDED.priority_weight,
	max_concurrent = EXCLUDED.max_concurrent,
	voice_id = EXCLUDED.voice_id,
	intro_path = EXCLUDED.intro_path,
	outro_path = EXCLUDED.outro_path,
	storage_strategy = EXCLUDED.storage_strategy,
	upload_privacy_default = EXCLUDED.upload_privacy_default,
	daily_spend_cap_usd = EXCLUDED.daily_spend_cap_usd,
	enc_planning_db_token = EXCLUDED.enc_planning_db_token,
	enc_upload_refresh_token = EXCLUDED.enc_upload_refresh_token,
	enc_provider_keys = EXCLUDED.enc_provider_keys,
	updated_at = now()
RETURNING id, created_at, updated_at`

	row := r.db.QueryRowxContext(ctx, r.db.Rebind(q),
		c.ChannelID, c.ChannelName, c.PlanningDBDatabaseID, c.Active,
		c.PriorityWeight, c.MaxConcurrent, c.VoiceID, c.IntroPath, c.OutroPath,
		c.StorageStrategy, c.UploadPrivacyDefault, capArg,
		c.EncPlanningDBToken, c.EncUploadRefreshToken, c.EncProviderKeys,
	)

	var id uuid.UUID
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(&id, &createdAt, &updatedAt); err != nil {
		return model.Channel{}, orcherrors.FailedToWithDetails("upsert channel", "store", c.ChannelID, err)
	}
	c.ID = id
	c.CreatedAt = createdAt.Time
	c.UpdatedAt = updatedAt.Time
	return c, nil
}

// DeactivateChannel flips active to false without deleting the row, so
// historical tasks keep their foreign key and cost/audit trail intact.
func (r *ChannelRepository) DeactivateChannel(ctx context.Context, channelID string) error {
	const q = `UPDATE channels SET active = false, updated_at = now() WHERE channel_id = $1`
	res, err := r.db.ExecContext(ctx, r.db.Rebind(q), channelID)
	if err != nil {
		return orcherrors.FailedToWithDetails("deactivate channel", "store", channelID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return orcherrors.FailedToWithDetails("check deactivate result", "store", channelID, err)
	}
	if n == 0 {
		return orcherrors.FailedToWithDetails("deactivate channel", "store", channelID, fmt.Errorf("no such channel"))
	}
	return nil
}

// ListChannels returns every channel row, active or not; callers filter
// on Active as needed (the registry keeps inactive channels visible for
// audit/history lookups).
func (r *ChannelRepository) ListChannels(ctx context.Context) ([]model.Channel, error) {
	const q = `SELECT * FROM channels ORDER BY channel_id`
	var rows []channelRow
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, orcherrors.FailedTo("list channels", err)
	}
	out := make([]model.Channel, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// GetChannelByChannelID fetches one channel by its stable short ID.
func (r *ChannelRepository) GetChannelByChannelID(ctx context.Context, channelID string) (model.Channel, error) {
	const q = `SELECT * FROM channels WHERE channel_id = $1`
	var row channelRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(q), channelID); err != nil {
		return model.Channel{}, orcherrors.FailedToWithDetails("get channel", "store", channelID, err)
	}
	return row.toModel(), nil
}
