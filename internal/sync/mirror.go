// Package sync implements the bidirectional reconciler between the
// pipeline's internal task state and the external planning database
// (spec.md §4.9): a best-effort outbound status mirror and a
// poll-plus-webhook inbound intake path, with the planning database
// always treated as the non-authoritative mirror target and the
// orchestrator's own task table as source of truth for pipeline state.
package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/internal/planningdb"
	"github.com/reelforge/orchestrator/internal/vault"
	"github.com/reelforge/orchestrator/pkg/logging"
	"github.com/reelforge/orchestrator/pkg/model"
)

type mirrorJob struct {
	token      string
	pageRef    string
	label      model.PlanningDBStatusLabel
	errSummary string
	updatedAt  time.Time
}

// OutboundMirror posts status-label transitions to the planning
// database off the engine's own goroutine: Enqueue never blocks and
// never fails the pipeline, satisfying the engine.Mirror interface.
// Ordering is preserved per task because a task's own stage loop always
// enqueues sequentially from one goroutine; ordering across different
// tasks sharing the queue is not guaranteed, which is fine since the
// planning database is a display mirror, not a coordination point.
type OutboundMirror struct {
	client *planningdb.Client
	vault  *vault.Vault
	queue  chan mirrorJob
	log    *zap.SugaredLogger
}

// NewOutboundMirror constructs a mirror with a bounded queue. A full
// queue means posts are dropped (and logged), never blocking a worker.
func NewOutboundMirror(client *planningdb.Client, v *vault.Vault, bufferSize int, log *zap.SugaredLogger) *OutboundMirror {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &OutboundMirror{client: client, vault: v, queue: make(chan mirrorJob, bufferSize), log: log}
}

// Enqueue implements engine.Mirror.
func (m *OutboundMirror) Enqueue(task model.Task, channel model.Channel, label model.PlanningDBStatusLabel, errSummary string) {
	token, err := m.vault.DecryptString(channel.EncPlanningDBToken)
	if err != nil {
		m.log.Warnw("dropping status mirror post, credential unavailable",
			logging.NewFields().Component("sync").Channel(channel.ChannelID).Task(task.ID.String()).Error(err).Pairs()...)
		return
	}

	job := mirrorJob{token: token, pageRef: task.PlanningPageRef, label: label, errSummary: errSummary, updatedAt: time.Now()}
	select {
	case m.queue <- job:
	default:
		m.log.Warnw("dropping status mirror post, queue full",
			logging.NewFields().Component("sync").Channel(channel.ChannelID).Task(task.ID.String()).Pairs()...)
	}
}

// Run drains the queue until ctx is canceled. Call it once from a
// long-lived goroutine at process startup.
func (m *OutboundMirror) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.queue:
			if err := m.client.PostStatusUpdate(ctx, job.token, job.pageRef, job.label, job.errSummary, job.updatedAt); err != nil {
				m.log.Warnw("status mirror post failed after retries",
					logging.NewFields().Component("sync").Operation("post_status").Error(err).Pairs()...)
			}
		}
	}
}
