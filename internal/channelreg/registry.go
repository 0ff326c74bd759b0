package channelreg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/internal/vault"
	"github.com/reelforge/orchestrator/pkg/logging"
	"github.com/reelforge/orchestrator/pkg/model"
)

// ChannelStore is the persistence dependency the registry needs: it
// never cascade-deletes a channel row, only upserts or deactivates it.
type ChannelStore interface {
	UpsertChannel(ctx context.Context, c model.Channel) (model.Channel, error)
	DeactivateChannel(ctx context.Context, channelID string) error
	ListChannels(ctx context.Context) ([]model.Channel, error)
}

// CapacityCache optionally mirrors in-flight counters to a shared
// store (internal/cache, Redis-backed) so multiple worker processes
// see a consistent view. A nil cache means in-process-only counters,
// which is still a conforming implementation of spec.md §5.
type CapacityCache interface {
	Incr(ctx context.Context, channelID string) (int64, error)
	Decr(ctx context.Context, channelID string) (int64, error)
	Get(ctx context.Context, channelID string) (int64, error)
}

// Registry loads, validates and watches channel configuration files,
// and tracks per-channel in-flight capacity counters for the
// dispatcher.
type Registry struct {
	dir   string
	store ChannelStore
	vault *vault.Vault
	cache CapacityCache
	log   *zap.SugaredLogger

	mu       sync.RWMutex
	channels map[string]model.Channel // keyed by ChannelID

	inFlight sync.Map // channelID -> *int64, used when cache is nil

	watcher *fsnotify.Watcher
}

// New constructs a Registry rooted at dir. cache may be nil.
func New(dir string, store ChannelStore, v *vault.Vault, cache CapacityCache, log *zap.SugaredLogger) *Registry {
	return &Registry{
		dir:      dir,
		store:    store,
		vault:    v,
		cache:    cache,
		log:      log,
		channels: make(map[string]model.Channel),
	}
}

// Scan performs one full pass over the configuration directory. A
// rejected file is logged and skipped; it never blocks the rest of the
// scan. Registered channels whose file is not accepted in this pass are
// dropped from the registry and deactivated in the store by
// reconcileRemovals at the end of the pass.
func (r *Registry) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read channel config dir %s: %w", r.dir, err)
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() || !isConfigFile(entry.Name()) {
			continue
		}
		path := filepath.Join(r.dir, entry.Name())
		fc, err := ParseFile(path)
		if err != nil {
			r.log.Warnw("rejecting channel config", logging.NewFields().Component("channelreg").Error(err).Pairs()...)
			continue
		}

		channel := fc.ToChannel()
		if err := r.encryptCredentials(&channel, fc); err != nil {
			r.log.Warnw("rejecting channel config: credential encryption failed",
				logging.NewFields().Component("channelreg").Channel(fc.ChannelID).Error(err).Pairs()...)
			continue
		}

		persisted, err := r.store.UpsertChannel(ctx, channel)
		if err != nil {
			r.log.Errorw("failed to persist channel",
				logging.NewFields().Component("channelreg").Channel(fc.ChannelID).Error(err).Pairs()...)
			continue
		}

		r.mu.Lock()
		r.channels[persisted.ChannelID] = persisted
		r.mu.Unlock()
		seen[persisted.ChannelID] = true
	}

	r.reconcileRemovals(ctx, seen)
	return nil
}

// reconcileRemovals deactivates channels whose file disappeared,
// retaining their rows for audit per spec.md §3.
func (r *Registry) reconcileRemovals(ctx context.Context, seen map[string]bool) {
	r.mu.Lock()
	var removed []string
	for id := range r.channels {
		if !seen[id] {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		delete(r.channels, id)
	}
	r.mu.Unlock()

	for _, id := range removed {
		if err := r.store.DeactivateChannel(ctx, id); err != nil {
			r.log.Errorw("failed to deactivate channel",
				logging.NewFields().Component("channelreg").Channel(id).Error(err).Pairs()...)
		}
	}
}

func (r *Registry) encryptCredentials(c *model.Channel, fc *FileConfig) error {
	if fc.PlanningDBToken != "" {
		blob, err := r.vault.EncryptString(fc.PlanningDBToken)
		if err != nil {
			return err
		}
		c.EncPlanningDBToken = blob
	}
	if fc.UploadRefreshToken != "" {
		blob, err := r.vault.EncryptString(fc.UploadRefreshToken)
		if err != nil {
			return err
		}
		c.EncUploadRefreshToken = blob
	}
	return nil
}

// Watch starts an fsnotify watch on the configuration directory and
// triggers Scan on every create/write/remove/rename event. New and
// removed files take effect without a process restart, per spec.md §4.3.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(r.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch config dir %s: %w", r.dir, err)
	}
	r.watcher = w

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !isConfigFile(event.Name) {
					continue
				}
				if err := r.Scan(ctx); err != nil {
					r.log.Errorw("rescan after fs event failed",
						logging.NewFields().Component("channelreg").Error(err).Pairs()...)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.log.Errorw("channel config watcher error",
					logging.NewFields().Component("channelreg").Error(err).Pairs()...)
			}
		}
	}()
	return nil
}

func isConfigFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Get returns the current registered channel by its short id.
func (r *Registry) Get(channelID string) (model.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.channels[channelID]
	return c, ok
}

// Active returns all currently active channels.
func (r *Registry) Active() []model.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Channel, 0, len(r.channels))
	for _, c := range r.channels {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}

// AcquireSlot attempts to reserve one in-flight slot for channelID
// against its MaxConcurrent ceiling. Returns false if the channel is at
// capacity.
func (r *Registry) AcquireSlot(ctx context.Context, channelID string) (bool, error) {
	c, ok := r.Get(channelID)
	if !ok {
		return false, fmt.Errorf("unknown channel %s", channelID)
	}

	if r.cache != nil {
		cur, err := r.cache.Incr(ctx, channelID)
		if err != nil {
			return false, err
		}
		if cur > int64(c.MaxConcurrent) {
			_, _ = r.cache.Decr(ctx, channelID)
			return false, nil
		}
		return true, nil
	}

	counterAny, _ := r.inFlight.LoadOrStore(channelID, new(int64))
	counter := counterAny.(*int64)
	cur := atomic.AddInt64(counter, 1)
	if cur > int64(c.MaxConcurrent) {
		atomic.AddInt64(counter, -1)
		return false, nil
	}
	return true, nil
}

// ReleaseSlot releases one in-flight slot for channelID.
func (r *Registry) ReleaseSlot(ctx context.Context, channelID string) {
	if r.cache != nil {
		_, _ = r.cache.Decr(ctx, channelID)
		return
	}
	if counterAny, ok := r.inFlight.Load(channelID); ok {
		atomic.AddInt64(counterAny.(*int64), -1)
	}
}
