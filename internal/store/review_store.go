package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/model"
)

// ReviewRepository persists model.Review rows.
type ReviewRepository struct {
	db *sqlx.DB
}

// NewReviewRepository wraps db for review persistence.
func NewReviewRepository(db *sqlx.DB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

type reviewRow struct {
	ID        uuid.UUID `db:"id"`
	TaskID    uuid.UUID `db:"task_id"`
	Gate      string    `db:"gate"`
	Attempt   int       `db:"attempt"`
	Reviewer  string    `db:"reviewer"`
	Decision  string    `db:"decision"`
	Note      string    `db:"note"`
	CreatedAt time.Time `db:"created_at"`
}

func (r reviewRow) toModel() model.Review {
	return model.Review{
		ID:        r.ID,
		TaskID:    r.TaskID,
		Gate:      model.ReviewGate(r.Gate),
		Attempt:   r.Attempt,
		Reviewer:  r.Reviewer,
		Decision:  model.ReviewDecision(r.Decision),
		Note:      r.Note,
		CreatedAt: r.CreatedAt,
	}
}

// RecordDecision inserts the one decisive review for (task, gate,
// attempt); the unique index makes a second decision for the same
// attempt fail rather than silently overwrite spec.md's audit trail.
func (r *ReviewRepository) RecordDecision(ctx context.Context, rv model.Review) (model.Review, error) {
	const q = `
INSERT INTO reviews (task_id, gate, attempt, reviewer, decision, note)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING *`
	var row reviewRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(q),
		rv.TaskID, rv.Gate, rv.Attempt, rv.Reviewer, rv.Decision, rv.Note,
	)
	if err != nil {
		return model.Review{}, orcherrors.FailedToWithDetails("record review decision", "store", rv.TaskID.String(), err)
	}
	return row.toModel(), nil
}

// ListByTask returns every review recorded for a task, oldest first.
func (r *ReviewRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]model.Review, error) {
	const q = `SELECT * FROM reviews WHERE task_id = $1 ORDER BY created_at ASC`
	var rows []reviewRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(q), taskID); err != nil {
		return nil, orcherrors.FailedToWithDetails("list reviews", "store", taskID.String(), err)
	}
	out := make([]model.Review, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}
