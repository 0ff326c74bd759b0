// Package engine drives a claimed task through the 8-stage pipeline
// and its 9-state lifecycle (spec.md §4.8): stage execution via the
// subprocess supervisor or the upload/planning-db clients, resume from
// the completed-stages bitmap, review-gate blocking, retry backoff, and
// strict short-transaction discipline around every state change.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/internal/database"
	"github.com/reelforge/orchestrator/internal/metrics"
	"github.com/reelforge/orchestrator/internal/planningdb"
	"github.com/reelforge/orchestrator/internal/store"
	"github.com/reelforge/orchestrator/internal/subprocess"
	"github.com/reelforge/orchestrator/internal/upload"
	"github.com/reelforge/orchestrator/internal/vault"
	"github.com/reelforge/orchestrator/internal/workspace"
	orcherrors "github.com/reelforge/orchestrator/pkg/errors"
	"github.com/reelforge/orchestrator/pkg/logging"
	"github.com/reelforge/orchestrator/pkg/model"
)

// Mirror is the outbound-status-mirror dependency (internal/sync's
// OutboundMirror). The engine only enqueues; sync owns the rate-limited
// posting and best-effort per-task ordering (spec.md §4.9).
type Mirror interface {
	Enqueue(task model.Task, channel model.Channel, label model.PlanningDBStatusLabel, errSummary string)
}

// Alerter is the narrow slice of internal/alerting the engine needs for
// terminal-failure and reauth notifications.
type Alerter interface {
	PostAlert(ctx context.Context, severity, summary string, context map[string]any) error
}

// Engine owns one process's worth of pipeline execution. It is safe for
// concurrent use by multiple worker goroutines, each driving a
// different task.
type Engine struct {
	pool    *database.Pool
	tasks   *store.TaskRepository
	reviews *store.ReviewRepository
	costs   *store.CostEntryRepository
	audit   *store.AuditEntryRepository

	supervisor *subprocess.Supervisor
	layout     *workspace.Layout
	uploader   *upload.Uploader
	planning   *planningdb.Client
	vault      *vault.Vault
	mirror     Mirror
	alerter    Alerter
	metrics    *metrics.Registry
	log        *zap.SugaredLogger
}

// New constructs an Engine. alerter and m may both be nil.
func New(
	pool *database.Pool,
	tasks *store.TaskRepository,
	reviews *store.ReviewRepository,
	costs *store.CostEntryRepository,
	audit *store.AuditEntryRepository,
	supervisor *subprocess.Supervisor,
	layout *workspace.Layout,
	uploader *upload.Uploader,
	planning *planningdb.Client,
	v *vault.Vault,
	mirror Mirror,
	alerter Alerter,
	m *metrics.Registry,
	log *zap.SugaredLogger,
) *Engine {
	return &Engine{
		pool: pool, tasks: tasks, reviews: reviews, costs: costs, audit: audit,
		supervisor: supervisor, layout: layout, uploader: uploader, planning: planning, vault: v,
		mirror: mirror, alerter: alerter, metrics: m, log: log,
	}
}

// Process drives task forward as far as it can go without blocking:
// until it hits a review gate, exhausts its retry budget, hits a
// terminal error, runs out of quota, or completes. It never holds a
// transaction across a subprocess or network call (spec.md's
// short-transaction rule) — every persistence step below is a single
// UpdateProgress statement issued between stages, outside any
// transaction.
func (e *Engine) Process(ctx context.Context, task model.Task, channel model.Channel) error {
	var videoURL string

	if task.State == model.StateClaimed {
		e.mirror.Enqueue(task, channel, model.LabelClaimed, "")
		task.State = model.StateProcessing
		task.LastErrorKind = ""
		task.LastErrorMessage = ""
		if err := e.persist(ctx, &task); err != nil {
			return err
		}
	}

	for task.StageIndex < model.StageCount {
		idx := task.StageIndex
		if task.StageComplete(idx) {
			task.StageIndex++
			continue
		}

		e.mirror.Enqueue(task, channel, generatingLabels[idx], "")

		if err := e.runStage(ctx, &task, channel, idx, &videoURL); err != nil {
			return e.handleStageError(ctx, &task, channel, idx, err)
		}

		task.MarkStageComplete(idx)

		if readyIsGate(idx) {
			task.State = model.StateAwaitingReview
			if err := e.persist(ctx, &task); err != nil {
				return err
			}
			if model.Stages[idx].Kind == model.StageAssemble {
				// two-step sequence: "Assembly Ready" is transient, "Final
				// Review" (gateLabels) is the label that actually blocks.
				e.mirror.Enqueue(task, channel, readyLabels[idx], "")
			}
			e.mirror.Enqueue(task, channel, gateLabels[idx], "")
			return nil // indefinite block until a Review row arrives (§4.8)
		}

		// No gate: auto-advance. Upload and finalize (idx 6, 7) have no
		// Ready label of their own — finalize's completion is reported as
		// Published once the whole loop exits.
		if idx < model.StageUpload {
			e.mirror.Enqueue(task, channel, readyLabels[idx], "")
			if label, ok := approvedLabels[model.Stages[idx].Kind]; ok {
				e.mirror.Enqueue(task, channel, label, "")
			}
		}

		task.StageIndex++
		if err := e.persist(ctx, &task); err != nil {
			return err
		}
	}

	task.State = model.StateCompleted
	if err := e.persist(ctx, &task); err != nil {
		return err
	}
	e.mirror.Enqueue(task, channel, model.LabelPublished, "")
	return nil
}

// persist writes task's progress fields in one statement, honoring the
// rule that state transitions are always committed before the engine
// does anything else that might block (P3). UpdateProgress is already
// a single UPDATE, so there is no multi-statement span here that needs
// its own transaction.
func (e *Engine) persist(ctx context.Context, task *model.Task) error {
	return e.tasks.UpdateProgress(ctx, *task)
}

func (e *Engine) handleStageError(ctx context.Context, task *model.Task, channel model.Channel, idx int, stageErr error) error {
	kind := orcherrors.KindOf(stageErr)
	if kind == orcherrors.KindUnknown {
		kind = classifyGeneric(stageErr)
	}

	switch kind {
	case orcherrors.KindQuota:
		task.State = model.StatePending
		task.AvailableAt = nextUTCMidnight(time.Now())
		task.LastErrorKind = kind.String()
		task.LastErrorMessage = stageErr.Error()
		if err := e.persist(ctx, task); err != nil {
			return err
		}
		if e.alerter != nil {
			_ = e.alerter.PostAlert(ctx, "warning", "upload quota exhausted, rescheduled to next UTC day", map[string]any{
				"task_id": task.ID.String(), "channel_id": channel.ChannelID,
			})
		}
		return nil

	case orcherrors.KindReauthRequired:
		task.State = model.StatePending
		task.AvailableAt = time.Now().Add(15 * time.Minute)
		task.LastErrorKind = kind.String()
		task.LastErrorMessage = stageErr.Error()
		if err := e.persist(ctx, task); err != nil {
			return err
		}
		if e.alerter != nil {
			_ = e.alerter.PostAlert(ctx, "error", "reauth required, uploads quiesced for channel", map[string]any{
				"channel_id": channel.ChannelID,
			})
		}
		return nil

	case orcherrors.KindRetriableTransient:
		task.RetryCount++
		task.LastErrorKind = kind.String()
		task.LastErrorMessage = stageErr.Error()
		if task.RetryCount >= maxRetries {
			task.State = model.StateFailed
			if err := e.persist(ctx, task); err != nil {
				return err
			}
			e.mirror.Enqueue(*task, channel, errorLabelForStage(idx), stageErr.Error())
			if e.alerter != nil {
				_ = e.alerter.PostAlert(ctx, "error", "task failed after exhausting retries", map[string]any{
					"task_id": task.ID.String(), "channel_id": channel.ChannelID, "stage": model.Stages[idx].Name,
				})
			}
			return nil
		}
		// StateRetry exists as a lifecycle label for observability, but the
		// claim query only ever selects pending rows, so the persisted
		// state goes straight to pending with AvailableAt pushed out.
		task.State = model.StatePending
		task.AvailableAt = time.Now().Add(backoffFor(task.RetryCount))
		return e.persist(ctx, task)

	default: // permanent client error, infrastructure, review rejection, unknown
		task.State = model.StateFailed
		task.LastErrorKind = kind.String()
		task.LastErrorMessage = stageErr.Error()
		if err := e.persist(ctx, task); err != nil {
			return err
		}
		e.mirror.Enqueue(*task, channel, errorLabelForStage(idx), stageErr.Error())
		if e.alerter != nil {
			_ = e.alerter.PostAlert(ctx, "error", "task failed permanently", map[string]any{
				"task_id": task.ID.String(), "channel_id": channel.ChannelID, "stage": model.Stages[idx].Name,
			})
		}
		return nil
	}
}

func classifyGeneric(err error) orcherrors.Kind {
	if err == nil {
		return orcherrors.KindUnknown
	}
	return orcherrors.KindInfrastructure
}

// ApplyReviewDecision records a human decision at a gate and advances
// or terminates the task accordingly. It is the only path back from
// awaiting_review: the dispatcher's claim query never selects
// awaiting_review rows, so a task is inert until this is called
// (control surface's POST /approve|/reject, spec.md §4.11).
func (e *Engine) ApplyReviewDecision(ctx context.Context, task model.Task, channel model.Channel, gate model.ReviewGate, decision model.ReviewDecision, reviewer, note string) error {
	if task.State != model.StateAwaitingReview {
		return orcherrors.Classify(orcherrors.KindPermanentClient, orcherrors.ErrGateClosed)
	}

	review := model.Review{TaskID: task.ID, Gate: gate, Attempt: task.Attempt, Reviewer: reviewer, Decision: decision, Note: note}
	if _, err := e.reviews.RecordDecision(ctx, review); err != nil {
		return err
	}

	e.writeAudit(ctx, channel, task.ID, fmt.Sprintf("review_%s", decision), reviewer, note)

	if decision == model.DecisionRejected {
		task.State = model.StateRejected
		task.LastErrorMessage = note
		return e.persist(ctx, &task)
	}

	idx := task.StageIndex
	if label, ok := approvedLabels[model.Stages[idx].Kind]; ok {
		e.mirror.Enqueue(task, channel, label, "")
	}
	task.StageIndex++
	task.State = model.StatePending
	task.AvailableAt = time.Now()
	return e.persist(ctx, &task)
}

func (e *Engine) writeAudit(ctx context.Context, channel model.Channel, taskID uuid.UUID, action, actor, note string) {
	entry := model.AuditEntry{ChannelID: channel.ID, TaskID: &taskID, Action: action, Actor: actor, Note: note}
	_, err := e.audit.Append(ctx, entry)
	if err != nil {
		e.log.Warnw("failed to append audit entry",
			logging.NewFields().Component("engine").Operation("audit").Error(err).Pairs()...)
	}
}
