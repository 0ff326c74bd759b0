package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/model"
)

// TaskRepository persists model.Task rows and implements the claim
// primitive the dispatcher builds fair scheduling on top of.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository wraps db for task persistence.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

type taskRow struct {
	ID                  uuid.UUID    `db:"id"`
	ChannelID           uuid.UUID    `db:"channel_id"`
	PlanningPageRef     string       `db:"planning_page_ref"`
	Title               string       `db:"title"`
	Topic               string       `db:"topic"`
	StoryDirection      string       `db:"story_direction"`
	Priority            string       `db:"priority"`
	State               string       `db:"state"`
	StageIndex          int          `db:"stage_index"`
	CompletedStages     int          `db:"completed_stages"`
	RetryCount          int          `db:"retry_count"`
	AvailableAt         time.Time    `db:"available_at"`
	ClaimedBy           string       `db:"claimed_by"`
	ClaimedAt           sql.NullTime `db:"claimed_at"`
	LockExpiresAt       sql.NullTime `db:"lock_expires_at"`
	LastChannelServedAt sql.NullTime `db:"last_channel_served_at"`
	LastErrorKind       string       `db:"last_error_kind"`
	LastErrorMessage    string       `db:"last_error_message"`
	CorrelationID       string       `db:"correlation_id"`
	Attempt             int          `db:"attempt"`
	CreatedAt           time.Time    `db:"created_at"`
	UpdatedAt           time.Time    `db:"updated_at"`
}

func (r taskRow) toModel() model.Task {
	t := model.Task{
		ID:                  r.ID,
		ChannelID:           r.ChannelID,
		PlanningPageRef:     r.PlanningPageRef,
		Title:               r.Title,
		Topic:               r.Topic,
		StoryDirection:      r.StoryDirection,
		Priority:            model.Priority(r.Priority),
		State:               model.LifecycleState(r.State),
		StageIndex:          r.StageIndex,
		CompletedStages:     uint8(r.CompletedStages),
		RetryCount:          r.RetryCount,
		AvailableAt:         r.AvailableAt,
		ClaimedBy:           r.ClaimedBy,
		LastErrorKind:       r.LastErrorKind,
		LastErrorMessage:    r.LastErrorMessage,
		CorrelationID:       r.CorrelationID,
		Attempt:             r.Attempt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.ClaimedAt.Valid {
		t.ClaimedAt = &r.ClaimedAt.Time
	}
	if r.LockExpiresAt.Valid {
		t.LockExpiresAt = &r.LockExpiresAt.Time
	}
	if r.LastChannelServedAt.Valid {
		t.LastChannelServedAt = &r.LastChannelServedAt.Time
	}
	return t
}

// Enqueue inserts a new task, or is a silent no-op if a non-terminal
// task already exists for (channel, planning_page_ref) — the idempotent
// re-sync path spec.md §4.7 requires. It returns the row that now
// exists either way.
func (r *TaskRepository) Enqueue(ctx context.Context, t model.Task) (model.Task, error) {
	const q = `
INSERT INTO tasks (
	channel_id, planning_page_ref, title, topic, story_direction,
	priority, correlation_id
) VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (channel_id, planning_page_ref) WHERE state NOT IN ('completed', 'failed', 'rejected')
DO UPDATE SET planning_page_ref = EXCLUDED.planning_page_ref
RETURNING *`

	var row taskRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(q),
		t.ChannelID, t.PlanningPageRef, t.Title, t.Topic, t.StoryDirection,
		t.Priority, t.CorrelationID,
	)
	if err != nil {
		return model.Task{}, orcherrors.FailedToWithDetails("enqueue task", "store", t.PlanningPageRef, err)
	}
	return row.toModel(), nil
}

// ClaimableChannels returns the distinct channel IDs with at least one
// pending, available task — the candidate set the dispatcher's
// weighted round-robin picks from each tick.
func (r *TaskRepository) ClaimableChannels(ctx context.Context) ([]uuid.UUID, error) {
	const q = `
SELECT DISTINCT channel_id FROM tasks
WHERE state = 'pending' AND available_at <= now()`
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, q); err != nil {
		return nil, orcherrors.FailedTo("list claimable channels", err)
	}
	return ids, nil
}

// ClaimNextForChannel atomically claims the highest-priority, longest-
// waiting available task for channelID using SELECT ... FOR UPDATE
// SKIP LOCKED so concurrent workers never contend on the same row, then
// sets a lease expiring after leaseDuration. Returns (nil, nil) if
// nothing is claimable.
func (r *TaskRepository) ClaimNextForChannel(ctx context.Context, channelID uuid.UUID, workerID string, leaseDuration time.Duration) (*model.Task, error) {
	var claimed *model.Task
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		const selectQ = `
SELECT * FROM tasks
WHERE channel_id = $1 AND state = 'pending' AND available_at <= now()
ORDER BY CASE priority WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END DESC,
	last_channel_served_at ASC NULLS FIRST, created_at ASC
LIMIT 1
FOR UPDATE SKIP LOCKED`

		var row taskRow
		if err := tx.GetContext(ctx, &row, tx.Rebind(selectQ), channelID); err != nil {
			if err == sql.ErrNoRows {
				return nil
			}
			return err
		}

		const updateQ = `
UPDATE tasks SET
	state = 'claimed', claimed_by = $2, claimed_at = now(),
	lock_expires_at = now() + $3::interval, last_channel_served_at = now(),
	updated_at = now()
WHERE id = $1
RETURNING *`
		var updated taskRow
		leaseSeconds := fmt.Sprintf("%d seconds", int(leaseDuration.Seconds()))
		if err := tx.GetContext(ctx, &updated, tx.Rebind(updateQ), row.ID, workerID, leaseSeconds); err != nil {
			return err
		}
		m := updated.toModel()
		claimed = &m
		return nil
	})
	if err != nil {
		return nil, orcherrors.FailedToWithDetails("claim task", "store", channelID.String(), err)
	}
	return claimed, nil
}

// ResurrectExpiredLeases returns expired claims (lock_expires_at in the
// past, still claimed or processing) to pending, for the dispatcher's
// lease sweep. Returns the count resurrected.
func (r *TaskRepository) ResurrectExpiredLeases(ctx context.Context) (int, error) {
	const q = `
UPDATE tasks SET state = 'pending', claimed_by = '', claimed_at = NULL,
	lock_expires_at = NULL, updated_at = now()
WHERE state IN ('claimed', 'processing') AND lock_expires_at < now()`
	res, err := r.db.ExecContext(ctx, q)
	if err != nil {
		return 0, orcherrors.FailedTo("resurrect expired leases", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, orcherrors.FailedTo("count resurrected leases", err)
	}
	return int(n), nil
}

// GetTask fetches a single task by ID.
func (r *TaskRepository) GetTask(ctx context.Context, id uuid.UUID) (model.Task, error) {
	const q = `SELECT * FROM tasks WHERE id = $1`
	var row taskRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(q), id); err != nil {
		return model.Task{}, orcherrors.FailedToWithDetails("get task", "store", id.String(), err)
	}
	return row.toModel(), nil
}

// ListTasksByChannel lists tasks for a channel, newest first.
func (r *TaskRepository) ListTasksByChannel(ctx context.Context, channelID uuid.UUID) ([]model.Task, error) {
	const q = `SELECT * FROM tasks WHERE channel_id = $1 ORDER BY created_at DESC`
	var rows []taskRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), channelID); err != nil {
		return nil, orcherrors.FailedToWithDetails("list tasks", "store", channelID.String(), err)
	}
	out := make([]model.Task, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

// UpdateProgress persists a stage-machine transition: state, stage
// index, completed-stage bitmap and error fields in one statement, so
// callers issue it without a surrounding transaction; the engine calls
// it between stages, never while a subprocess or network call is pending.
func (r *TaskRepository) UpdateProgress(ctx context.Context, t model.Task) error {
	const q = `
UPDATE tasks SET
	state = $2, stage_index = $3, completed_stages = $4, retry_count = $5,
	available_at = $6, last_error_kind = $7, last_error_message = $8,
	attempt = $9, updated_at = now()
WHERE id = $1`
	_, err := r.db.ExecContext(ctx, r.db.Rebind(q),
		t.ID, t.State, t.StageIndex, t.CompletedStages, t.RetryCount,
		t.AvailableAt, t.LastErrorKind, t.LastErrorMessage, t.Attempt,
	)
	if err != nil {
		return orcherrors.FailedToWithDetails("update task progress", "store", t.ID.String(), err)
	}
	return nil
}

// withTx is a local helper so TaskRepository's claim primitive does not
// need to depend on internal/database.Pool; the repository only needs
// a *sqlx.DB, matching the constructor signature the rest of the store
// package uses.
func (r *TaskRepository) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}
