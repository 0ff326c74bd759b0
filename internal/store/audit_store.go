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

// AuditEntryRepository only inserts and reads audit_entries. There is
// deliberately no Update or Delete method on this type: the table's
// REVOKE at the DB role level (migrations/00005) is the second layer
// of the append-only guarantee, this type is the first.
type AuditEntryRepository struct {
	db *sqlx.DB
}

// NewAuditEntryRepository wraps db for audit-entry persistence.
func NewAuditEntryRepository(db *sqlx.DB) *AuditEntryRepository {
	return &AuditEntryRepository{db: db}
}

type auditEntryRow struct {
	ID        uuid.UUID       `db:"id"`
	ChannelID uuid.UUID       `db:"channel_id"`
	TaskID    uuid.NullUUID   `db:"task_id"`
	Action    string          `db:"action"`
	Actor     string          `db:"actor"`
	Note      string          `db:"note"`
	Metadata  json.RawMessage `db:"metadata"`
	CreatedAt time.Time       `db:"created_at"`
}

func (r auditEntryRow) toModel() model.AuditEntry {
	e := model.AuditEntry{
		ID:        r.ID,
		ChannelID: r.ChannelID,
		Action:    r.Action,
		Actor:     r.Actor,
		Note:      r.Note,
		CreatedAt: r.CreatedAt,
	}
	if r.TaskID.Valid {
		id := r.TaskID.UUID
		e.TaskID = &id
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &e.Metadata)
	}
	return e
}

// Append writes one audit record. The caller supplies Actor (a human
// reviewer handle, "system", or an operator CLI identity).
func (r *AuditEntryRepository) Append(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error) {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return model.AuditEntry{}, orcherrors.FailedTo("marshal audit entry metadata", err)
	}
	var taskArg any
	if e.TaskID != nil {
		taskArg = *e.TaskID
	}

	const q = `
INSERT INTO audit_entries (channel_id, task_id, action, actor, note, metadata)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING *`
	var row auditEntryRow
	err = r.db.GetContext(ctx, &row, r.db.Rebind(q),
		e.ChannelID, taskArg, e.Action, e.Actor, e.Note, meta,
	)
	if err != nil {
		return model.AuditEntry{}, orcherrors.FailedToWithDetails("append audit entry", "store", e.Action, err)
	}
	return row.toModel(), nil
}

// ListByTask returns a task's audit trail, oldest first.
func (r *AuditEntryRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]model.AuditEntry, error) {
	const q = `SELECT * FROM audit_entries WHERE task_id = $1 ORDER BY created_at ASC`
	var rows []auditEntryRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), taskID); err != nil {
		return nil, orcherrors.FailedToWithDetails("list audit entries", "store", taskID.String(), err)
	}
	out := make([]model.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
