// Package scheduler runs sync cycles and media cleanup in the background.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/gymnexus/backend/internal/clock"
	"github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
	"github.com/kimhsiao/gymnexus/backend/internal/media"
	"github.com/kimhsiao/gymnexus/backend/internal/models"
	"github.com/kimhsiao/gymnexus/backend/internal/netmon"
	syncpkg "github.com/kimhsiao/gymnexus/backend/internal/sync"
)

// Cleaner shrinks the media cache.
type Cleaner interface {
	Cleanup(ctx context.Context, opts media.CleanupOptions) (media.CleanupReport, error)
}

// Network publishes connectivity transitions.
type Network interface {
	Online() bool
	Subscribe(fn func(netmon.Status)) func()
}

// Scheduler manages background sync and cleanup.
type Scheduler struct {
	engine  syncpkg.Engine
	cleaner Cleaner
	network Network
	clock   clock.Clock
	cfg     Config

	trigger     chan struct{}
	stopCh      chan struct{}
	unsubscribe func()
	wg          sync.WaitGroup

	mu                sync.RWMutex
	isRunning         bool
	lastSyncTime      time.Time
	lastResult        *syncpkg.SyncResult
	activeSyncs       int
	cleanupInProgress bool
	lastCleanupTime   time.Time
	lastCleanup       *media.CleanupReport
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval    time.Duration // How often to sync when online (default: 15 minutes)
	CleanupInterval time.Duration // How often to shrink the media cache (default: 24 hours)
	SyncTimeout     time.Duration // Upper bound for one background cycle (default: 5 minutes)
	Cleanup         media.CleanupOptions
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		SyncInterval:    15 * time.Minute,
		CleanupInterval: 24 * time.Hour,
		SyncTimeout:     5 * time.Minute,
		Cleanup: media.CleanupOptions{
			BudgetBytes:              500 << 20,
			MaxAge:                   30 * 24 * time.Hour,
			PreserveHighPriority:     true,
			PreserveRecentlyAccessed: true,
		},
	}
}

// New creates a Scheduler. cleaner may be nil when there is no media
// cache to maintain.
func New(engine syncpkg.Engine, cleaner Cleaner, network Network, clk clock.Clock, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = def.SyncTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		engine:  engine,
		cleaner: cleaner,
		network: network,
		clock:   clk,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the background loops. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.unsubscribe = s.network.Subscribe(func(st netmon.Status) {
		if st.Online {
			logging.Info("Back online, scheduling sync", nil)
			s.TriggerSync()
		}
	})

	s.wg.Add(1)
	go s.syncLoop(ctx)
	if s.cleaner != nil {
		s.wg.Add(1)
		go s.cleanupLoop(ctx)
	}

	logging.Info("Background scheduler started", map[string]interface{}{
		"sync_interval":    s.cfg.SyncInterval.String(),
		"cleanup_interval": s.cfg.CleanupInterval.String(),
	})
}

// Stop stops the background loops and waits for a running cycle to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	s.unsubscribe()
	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background scheduler stopped", nil)
}

// syncLoop serializes background cycles: periodic ticks, reconnects,
// TriggerSync and the engine's own requests all land here.
func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runSync(ctx, "periodic")
		case <-s.trigger:
			s.runSync(ctx, "triggered")
		case <-s.engine.Requests():
			s.runSync(ctx, "requested")
		}
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.CleanupNow(ctx); err != nil && !errors.Is(err, errors.ErrSyncInProgress) {
				logging.Error("Scheduled media cleanup failed", err, nil)
			}
		}
	}
}

// runSync executes one background cycle.
func (s *Scheduler) runSync(ctx context.Context, reason string) {
	if !s.network.Online() {
		logging.Debug("Skipping sync while offline", map[string]interface{}{"reason": reason})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	if _, err := s.sync(ctx); err != nil {
		if errors.Is(err, errors.ErrSyncInProgress) {
			logging.Debug("Sync already in progress, skipping", map[string]interface{}{"reason": reason})
			return
		}
		logging.ErrorWithCode("Background sync failed", string(errors.CodeOf(err)), err,
			map[string]interface{}{"reason": reason})
	}
}

func (s *Scheduler) sync(ctx context.Context) (*syncpkg.SyncResult, error) {
	s.mu.Lock()
	s.activeSyncs++
	s.mu.Unlock()

	result, err := s.engine.Sync(ctx)

	// A call bounced with InProgress leaves the running cycle's mark alone.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeSyncs--
	if result != nil && !result.InProgress && !result.Preempted {
		s.lastSyncTime = s.clock.Now()
		s.lastResult = result
	}
	return result, err
}

// TriggerSync asks the background loop for a cycle. It returns false when
// a request is already waiting.
func (s *Scheduler) TriggerSync() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// SyncNow runs a cycle on the caller's goroutine and returns its result.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()
	return s.sync(ctx)
}

// CleanupNow runs one media cleanup pass with the configured options.
func (s *Scheduler) CleanupNow(ctx context.Context) (media.CleanupReport, error) {
	if s.cleaner == nil {
		return media.CleanupReport{}, errors.New(errors.ErrUnavailable, "media cache is not configured")
	}

	s.mu.Lock()
	if s.cleanupInProgress {
		s.mu.Unlock()
		return media.CleanupReport{}, errors.New(errors.ErrSyncInProgress, "media cleanup already in progress")
	}
	s.cleanupInProgress = true
	s.mu.Unlock()

	report, err := s.cleaner.Cleanup(ctx, s.cfg.Cleanup)

	s.mu.Lock()
	s.cleanupInProgress = false
	if err == nil {
		s.lastCleanupTime = s.clock.Now()
		s.lastCleanup = &report
	}
	s.mu.Unlock()
	return report, err
}

// Status is a snapshot of the scheduler.
type Status struct {
	IsRunning         bool                 `json:"is_running"`
	IsOnline          bool                 `json:"is_online"`
	SyncInProgress    bool                 `json:"sync_in_progress"`
	CleanupInProgress bool                 `json:"cleanup_in_progress"`
	LastSyncTime      *time.Time           `json:"last_sync_time,omitempty"`
	LastResult        *syncpkg.SyncResult  `json:"last_result,omitempty"`
	LastCleanupTime   *time.Time           `json:"last_cleanup_time,omitempty"`
	LastCleanup       *media.CleanupReport `json:"last_cleanup,omitempty"`
	State             models.SyncState     `json:"state"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		IsRunning:         s.isRunning,
		IsOnline:          s.network.Online(),
		SyncInProgress:    s.activeSyncs > 0,
		CleanupInProgress: s.cleanupInProgress,
		State:             s.engine.State(),
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	if s.lastResult != nil {
		r := *s.lastResult
		status.LastResult = &r
	}
	if !s.lastCleanupTime.IsZero() {
		t := s.lastCleanupTime
		status.LastCleanupTime = &t
	}
	if s.lastCleanup != nil {
		r := *s.lastCleanup
		status.LastCleanup = &r
	}
	return status
}

// IsRunning returns whether the background loops are running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
