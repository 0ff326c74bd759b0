// Package queue implements the durable, channel-aware task dispatcher:
// claim semantics atop SELECT ... FOR UPDATE SKIP LOCKED, weighted
// round-robin fair scheduling across channels, lease expiry and
// resurrection, and a jittered idle backoff additionally nudged by the
// database's LISTEN/NOTIFY wake channel (spec.md §4.7).
package queue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/internal/channelreg"
	"github.com/reelforge/orchestrator/internal/database"
	"github.com/reelforge/orchestrator/internal/metrics"
	"github.com/reelforge/orchestrator/internal/store"
	"github.com/reelforge/orchestrator/pkg/logging"
	"github.com/reelforge/orchestrator/pkg/model"
)

const (
	// notifyChannel names a Postgres NOTIFY channel for waking idle
	// dispatchers early. Nothing references it: Next wakes on whatever
	// channel the Notifier passed to New listens on (cmd/orchestrator
	// subscribes to "orchestrator_tasks"), and no code in this module
	// issues a NOTIFY.
	notifyChannel = "orchestrator_task_wake"

	leaseSweepInterval = 30 * time.Second
	minIdleBackoff      = 250 * time.Millisecond
	maxIdleBackoff      = 5 * time.Second
)

// Claimed pairs a freshly claimed task with its owning channel, since
// the engine needs both to run the pipeline.
type Claimed struct {
	Task    model.Task
	Channel model.Channel
}

// Dispatcher hands out work fairly across channels. One Dispatcher
// instance is shared by every worker goroutine in the process; Next is
// safe for concurrent use.
type Dispatcher struct {
	tasks    *store.TaskRepository
	registry *channelreg.Registry
	notifier *database.Notifier // nil if LISTEN/NOTIFY is unavailable; poll-only degrades gracefully
	workerID string
	lease    time.Duration
	metrics  *metrics.Registry
	log      *zap.SugaredLogger

	mu      sync.Mutex
	credits map[uuid.UUID]float64 // smooth weighted round-robin state, keyed by channel row id

	idleStreak int
}

// New constructs a Dispatcher. notifier may be nil.
func New(tasks *store.TaskRepository, registry *channelreg.Registry, notifier *database.Notifier, workerID string, lease time.Duration, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		tasks:    tasks,
		registry: registry,
		notifier: notifier,
		workerID: workerID,
		lease:    lease,
		log:      log,
		credits:  make(map[uuid.UUID]float64),
	}
}

// WithMetrics attaches a metrics registry after construction, so
// existing callers (and tests) that build a Dispatcher without one keep
// working; instrumentation is additive, never load-bearing.
func (d *Dispatcher) WithMetrics(m *metrics.Registry) *Dispatcher {
	d.metrics = m
	return d
}

// Next blocks until a task is claimed or ctx is cancelled. It never
// busy-waits: an empty pass sleeps for a jittered, exponentially
// growing idle backoff, interruptible early by a LISTEN/NOTIFY wake.
func (d *Dispatcher) Next(ctx context.Context) (*Claimed, error) {
	for {
		claimed, err := d.tryClaimOnce(ctx)
		if err != nil {
			return nil, err
		}
		if claimed != nil {
			d.mu.Lock()
			d.idleStreak = 0
			d.mu.Unlock()
			return claimed, nil
		}

		if err := d.idleWait(ctx); err != nil {
			return nil, err
		}
	}
}

func (d *Dispatcher) tryClaimOnce(ctx context.Context) (*Claimed, error) {
	byChannel := d.eligibleChannelsByID()
	if len(byChannel) == 0 {
		return nil, nil
	}

	claimableIDs, err := d.tasks.ClaimableChannels(ctx)
	if err != nil {
		return nil, err
	}

	order := d.weightedOrder(claimableIDs, byChannel)
	for _, channelRowID := range order {
		ch := byChannel[channelRowID]

		ok, err := d.registry.AcquireSlot(ctx, ch.ChannelID)
		if err != nil {
			d.log.Warnw("acquire slot failed",
				logging.NewFields().Component("queue").Channel(ch.ChannelID).Error(err).Pairs()...)
			continue
		}
		if !ok {
			continue // channel at its MaxConcurrent ceiling
		}

		task, err := d.tasks.ClaimNextForChannel(ctx, channelRowID, d.workerID, d.lease)
		if err != nil {
			d.registry.ReleaseSlot(ctx, ch.ChannelID)
			return nil, err
		}
		if task == nil {
			d.registry.ReleaseSlot(ctx, ch.ChannelID)
			continue // another worker won the race since ClaimableChannels was read
		}

		if task.StageIndex == model.Stages[model.StageUpload].Index && len(ch.EncUploadRefreshToken) == 0 {
			// Upload-stage work on a channel with no upload credentials:
			// release the claim immediately rather than stall a worker.
			d.registry.ReleaseSlot(ctx, ch.ChannelID)
			task.State = model.StatePending
			task.ClaimedBy = ""
			_ = d.tasks.UpdateProgress(ctx, *task)
			continue
		}

		if d.metrics != nil {
			d.metrics.TasksClaimed.WithLabelValues(ch.ChannelID).Inc()
		}
		return &Claimed{Task: *task, Channel: ch}, nil
	}
	return nil, nil
}

func (d *Dispatcher) eligibleChannelsByID() map[uuid.UUID]model.Channel {
	out := make(map[uuid.UUID]model.Channel)
	for _, ch := range d.registry.Active() {
		out[ch.ID] = ch
	}
	return out
}

// weightedOrder returns claimableIDs ordered by one round of the smooth
// weighted round-robin algorithm (as used by nginx upstream balancing):
// each eligible channel's running credit increases by its
// PriorityWeight every round; the highest-credit channel is served
// first and its credit is reduced by the sum of all weights.
func (d *Dispatcher) weightedOrder(claimableIDs []uuid.UUID, byChannel map[uuid.UUID]model.Channel) []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()

	eligible := make([]uuid.UUID, 0, len(claimableIDs))
	totalWeight := 0
	for _, id := range claimableIDs {
		ch, ok := byChannel[id]
		if !ok {
			continue
		}
		weight := ch.PriorityWeight
		if weight < 1 {
			weight = 1
		}
		d.credits[id] += float64(weight)
		totalWeight += weight
		eligible = append(eligible, id)
	}
	if len(eligible) == 0 {
		return nil
	}

	order := make([]uuid.UUID, 0, len(eligible))
	remaining := append([]uuid.UUID(nil), eligible...)
	for len(remaining) > 0 {
		bestIdx := 0
		for i, id := range remaining {
			if d.credits[id] > d.credits[remaining[bestIdx]] {
				bestIdx = i
			}
		}
		winner := remaining[bestIdx]
		if len(order) == 0 {
			d.credits[winner] -= float64(totalWeight)
		}
		order = append(order, winner)
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return order
}

func (d *Dispatcher) idleWait(ctx context.Context) error {
	d.mu.Lock()
	d.idleStreak++
	streak := d.idleStreak
	d.mu.Unlock()
	backoffDur := minIdleBackoff << uint(streak-1)
	if backoffDur > maxIdleBackoff || backoffDur <= 0 {
		backoffDur = maxIdleBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(backoffDur) / 2 + 1))
	wait := backoffDur/2 + jitter

	timer := time.NewTimer(wait)
	defer timer.Stop()

	var wake <-chan struct{}
	if d.notifier != nil {
		notifyWake := make(chan struct{}, 1)
		go func() {
			select {
			case <-d.notifier.Notifications():
				select {
				case notifyWake <- struct{}{}:
				default:
				}
			case <-ctx.Done():
			}
		}()
		wake = notifyWake
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-wake:
		return nil
	}
}

// SweepExpiredLeases returns expired claims to pending. Call this on a
// ticker (leaseSweepInterval) from one dispatcher goroutine per process
// group; it is safe to call redundantly from multiple processes since
// the underlying UPDATE is a single idempotent statement.
func (d *Dispatcher) SweepExpiredLeases(ctx context.Context) (int, error) {
	n, err := d.tasks.ResurrectExpiredLeases(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.log.Warnw("resurrected expired task leases",
			logging.NewFields().Component("queue").Operation("lease_sweep").Pairs()...)
		if d.metrics != nil {
			d.metrics.LeasesResurrected.Add(float64(n))
		}
	}
	return n, nil
}

// LeaseSweepInterval exposes the constant for callers wiring up a
// ticker in cmd/orchestrator.
func LeaseSweepInterval() time.Duration { return leaseSweepInterval }
