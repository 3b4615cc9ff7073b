package sync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/clock"
	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/netmon"
	"github.com/kimhsiao/gymnexus/backend/internal/records"
	"github.com/kimhsiao/gymnexus/backend/internal/remote"
	"github.com/kimhsiao/gymnexus/backend/internal/sync/conflict"
	"github.com/kimhsiao/gymnexus/backend/internal/sync/queue"
)

// Network is the connectivity source the coordinator follows.
type Network interface {
	Online() bool
	Subscribe(fn func(netmon.Status)) func()
}

// MediaPurger drops cached media owned by a deleted entity.
type MediaPurger interface {
	PurgeOwner(ctx context.Context, ownerRef string) (int, error)
}

// Config tunes the coordinator.
type Config struct {
	// BatchSize is how many mutations are peeked per table at a time.
	BatchSize int

	// RemoteTimeout bounds every remote call. A timeout is transient.
	RemoteTimeout time.Duration

	// TombstoneRetention is how long deletion markers outlive a
	// completed pull before they are dropped.
	TombstoneRetention time.Duration
}

// DefaultConfig returns the default coordinator settings.
func DefaultConfig() Config {
	return Config{
		BatchSize:          100,
		RemoteTimeout:      30 * time.Second,
		TombstoneRetention: 30 * 24 * time.Hour,
	}
}

// Coordinator owns the sync state machine: idle, syncing and offline.
type Coordinator struct {
	store    *records.Store
	queue    *queue.Queue
	remote   remote.Service
	network  Network
	media    MediaPurger
	clock    clock.Clock
	cfg      Config
	resolver *conflict.Resolver

	syncing  atomic.Bool
	requests chan struct{}

	mu      sync.Mutex
	state   models.SyncState
	subs    map[int]func(models.SyncState)
	nextSub int

	unsubscribeNet func()
}

// New creates a Coordinator and loads the persisted last sync time and
// queue counts into its state. media may be nil.
func New(ctx context.Context, store *records.Store, q *queue.Queue, svc remote.Service, network Network, media MediaPurger, clk clock.Clock, cfg Config) (*Coordinator, error) {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RemoteTimeout <= 0 {
		cfg.RemoteTimeout = def.RemoteTimeout
	}
	if cfg.TombstoneRetention <= 0 {
		cfg.TombstoneRetention = def.TombstoneRetention
	}
	if clk == nil {
		clk = clock.Real()
	}

	c := &Coordinator{
		store:    store,
		queue:    q,
		remote:   svc,
		network:  network,
		media:    media,
		clock:    clk,
		cfg:      cfg,
		resolver: conflict.NewResolver(clk),
		requests: make(chan struct{}, 1),
		subs:     make(map[int]func(models.SyncState)),
	}

	online := network == nil || network.Online()
	c.state = models.SyncState{IsOnline: online, Phase: models.PhaseIdle}
	if !online {
		c.state.Phase = models.PhaseOffline
	}
	if last, ok, err := store.LastSyncAt(ctx); err != nil {
		return nil, err
	} else if ok {
		c.state.LastSyncAt = &last
	}
	if err := c.refreshCounts(ctx); err != nil {
		return nil, err
	}

	if network != nil {
		c.unsubscribeNet = network.Subscribe(c.onNetwork)
	}
	return c, nil
}

// Close detaches from the network monitor.
func (c *Coordinator) Close() {
	if c.unsubscribeNet != nil {
		c.unsubscribeNet()
	}
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

func (c *Coordinator) online() bool {
	return c.network == nil || c.network.Online()
}

// =====================================================
// State and subscriptions
// =====================================================

// State returns a copy of the current state.
func (c *Coordinator) State() models.SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyStateLocked()
}

func (c *Coordinator) copyStateLocked() models.SyncState {
	s := c.state
	if s.LastSyncAt != nil {
		t := *s.LastSyncAt
		s.LastSyncAt = &t
	}
	return s
}

// Subscribe registers fn to receive every state change. Callbacks run on
// the goroutine that changed the state and must not block.
func (c *Coordinator) Subscribe(fn func(models.SyncState)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// update applies fn to the state and notifies subscribers outside the lock.
func (c *Coordinator) update(fn func(s *models.SyncState)) {
	c.mu.Lock()
	fn(&c.state)
	snapshot := c.copyStateLocked()
	subs := make([]func(models.SyncState), 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s(snapshot)
	}
}

func (c *Coordinator) onNetwork(st netmon.Status) {
	c.update(func(s *models.SyncState) {
		s.IsOnline = st.Online
		switch {
		case !st.Online:
			s.Phase = models.PhaseOffline
		case s.IsSyncing:
			s.Phase = models.PhaseSyncing
		default:
			s.Phase = models.PhaseIdle
		}
	})
}

func (c *Coordinator) refreshCounts(ctx context.Context) error {
	stats, err := c.queue.Stats(ctx)
	if err != nil {
		return err
	}
	c.update(func(s *models.SyncState) {
		s.PendingCount = stats.Pending
		s.DeadLetterCount = stats.Dead
	})
	return nil
}

// Requests delivers at most one outstanding background sync request.
func (c *Coordinator) Requests() <-chan struct{} {
	return c.requests
}

// RequestSync asks whoever drains Requests for a background cycle.
// Requests coalesce while one is outstanding.
func (c *Coordinator) RequestSync() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

// =====================================================
// Dead letters
// =====================================================

// DeadLetters lists mutations that need manual resolution.
func (c *Coordinator) DeadLetters(ctx context.Context) ([]models.QueuedMutation, error) {
	return c.queue.DeadLetters(ctx)
}

// RetryDeadLetter returns a dead-lettered mutation to the queue and, when
// online, requests a sync.
func (c *Coordinator) RetryDeadLetter(ctx context.Context, id models.UUID) (models.QueuedMutation, error) {
	m, err := c.queue.Retry(ctx, id)
	if err != nil {
		return models.QueuedMutation{}, err
	}
	logging.Info("dead-lettered mutation requeued", map[string]interface{}{
		"id": id, "table": m.Table, "entity_id": m.EntityID,
	})
	if err := c.refreshCounts(ctx); err != nil {
		return m, err
	}
	if c.online() {
		c.RequestSync()
	}
	return m, nil
}

// RetryAllDeadLetters requeues every dead-lettered mutation.
func (c *Coordinator) RetryAllDeadLetters(ctx context.Context) (int, error) {
	n, err := c.queue.RetryAll(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.refreshCounts(ctx); err != nil {
		return n, err
	}
	if n > 0 && c.online() {
		c.RequestSync()
	}
	return n, nil
}

// DiscardDeadLetter drops a dead-lettered mutation for good. The local
// row keeps the rejected write until the next pull overwrites it or the
// entity is edited again.
func (c *Coordinator) DiscardDeadLetter(ctx context.Context, id models.UUID) error {
	m, err := c.queue.Get(ctx, id)
	if err != nil {
		return err
	}
	if m.Status != models.MutationDead {
		return apperrors.Newf(apperrors.ErrValidation, "mutation %s is not dead-lettered", id)
	}
	if err := c.queue.Discard(ctx, id); err != nil {
		return err
	}
	logging.Warn("dead-lettered mutation discarded", map[string]interface{}{
		"id": id, "table": m.Table, "entity_id": m.EntityID, "op": m.Op,
	})
	return c.refreshCounts(ctx)
}

// ownerRef is the media owner reference for an entity.
func ownerRef(table models.EntityTable, id string) string {
	return queue.EntityKey(table, id)
}

// purgeMedia drops media owned by a deleted exercise. Failures are logged;
// stale media is reclaimed by the next cleanup pass anyway.
func (c *Coordinator) purgeMedia(ctx context.Context, table models.EntityTable, id string) {
	if c.media == nil || table != models.TableExercises {
		return
	}
	if _, err := c.media.PurgeOwner(ctx, ownerRef(table, id)); err != nil {
		logging.Error("purge exercise media", err, map[string]interface{}{"entity_id": id})
	}
}
