package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/internal/channelreg"
	"github.com/reelforge/orchestrator/internal/planningdb"
	"github.com/reelforge/orchestrator/internal/store"
	"github.com/reelforge/orchestrator/internal/vault"
	"github.com/reelforge/orchestrator/pkg/logging"
	"github.com/reelforge/orchestrator/pkg/model"
)

// intakeLabels are the only external statuses that cause the
// reconciler to enqueue a task: everything past "Queued" is the
// pipeline's own doing, mirrored outbound, never re-absorbed inbound.
var intakeLabels = map[model.PlanningDBStatusLabel]bool{
	model.LabelDraft:  true,
	model.LabelQueued: true,
}

// Reconciler drives the inbound half of the sync: a periodic poll per
// channel plus a webhook fast path, both funneling through the same
// idempotent ingest so a webhook-then-poll (or poll-then-webhook)
// double-delivery never double-enqueues (law L3, spec.md §4.9).
type Reconciler struct {
	client       *planningdb.Client
	registry     *channelreg.Registry
	tasks        *store.TaskRepository
	observations *store.SyncObservationRepository
	vault        *vault.Vault
	pollInterval time.Duration
	log          *zap.SugaredLogger

	lastPolled map[string]time.Time
}

// New constructs a Reconciler. pollInterval also sizes the lookback
// window on the first poll of any given channel.
func New(client *planningdb.Client, registry *channelreg.Registry, tasks *store.TaskRepository,
	observations *store.SyncObservationRepository, v *vault.Vault, pollInterval time.Duration, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		client: client, registry: registry, tasks: tasks, observations: observations, vault: v,
		pollInterval: pollInterval, log: log, lastPolled: make(map[string]time.Time),
	}
}

// Run polls every channel on pollInterval until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollAll(ctx)
		}
	}
}

func (r *Reconciler) pollAll(ctx context.Context) {
	for _, channel := range r.registry.Active() {
		if err := r.pollChannel(ctx, channel); err != nil {
			r.log.Warnw("planning-db poll failed",
				logging.NewFields().Component("sync").Channel(channel.ChannelID).Error(err).Pairs()...)
		}
	}
}

func (r *Reconciler) pollChannel(ctx context.Context, channel model.Channel) error {
	token, err := r.vault.DecryptString(channel.EncPlanningDBToken)
	if err != nil {
		return err
	}

	since, ok := r.lastPolled[channel.ChannelID]
	if !ok {
		since = time.Now().Add(-2 * r.pollInterval)
	}
	observed, err := r.client.PollPending(ctx, token, channel.PlanningDBDatabaseID, since)
	if err != nil {
		return err
	}
	r.lastPolled[channel.ChannelID] = time.Now()

	for _, obs := range observed {
		r.ingest(ctx, channel, obs)
	}
	return nil
}

// HandleWebhook is the fast path: the control surface has already
// verified the HMAC signature and resolved channel before calling this.
func (r *Reconciler) HandleWebhook(ctx context.Context, channel model.Channel, raw []byte) error {
	obs, err := planningdb.ParseWebhookPayload(raw)
	if err != nil {
		return err
	}
	r.ingest(ctx, channel, obs)
	return nil
}

// ingest applies the idempotency guard and, for an intake-worthy
// observation, enqueues a task. Enqueue itself is additionally
// idempotent on (channel, planning_page_ref) for any non-terminal row,
// so a replayed intake observation after a prior enqueue is a no-op at
// two independent layers.
func (r *Reconciler) ingest(ctx context.Context, channel model.Channel, obs planningdb.PageObservation) {
	isNew, err := r.observations.RecordIfNew(ctx, obs.PageRef, string(obs.StatusLabel), obs.UpdatedAt)
	if err != nil {
		r.log.Warnw("failed to record sync observation",
			logging.NewFields().Component("sync").Channel(channel.ChannelID).Error(err).Pairs()...)
		return
	}
	if !isNew || !intakeLabels[obs.StatusLabel] {
		return
	}

	priority := obs.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	task := model.Task{
		ChannelID:      channel.ID,
		PlanningPageRef: obs.PageRef,
		Title:          obs.Title,
		Topic:          obs.Topic,
		StoryDirection: obs.StoryDirection,
		Priority:       priority,
	}
	if _, err := r.tasks.Enqueue(ctx, task); err != nil {
		r.log.Errorw("failed to enqueue task from planning-db intake",
			logging.NewFields().Component("sync").Channel(channel.ChannelID).Resource("page", obs.PageRef).Error(err).Pairs()...)
	}
}
