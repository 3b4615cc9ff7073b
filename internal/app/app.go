// Package app wires the stores, the media cache, connectivity detection,
// the sync coordinator and the scheduler into one explicit context.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/kimhsiao/gymnexus/backend/internal/clock"
	"github.com/kimhsiao/gymnexus/backend/internal/config"
	"github.com/kimhsiao/gymnexus/backend/internal/db"
	apperrors "github.com/kimhsiao/gymnexus/backend/internal/errors"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
	"github.com/kimhsiao/gymnexus/backend/internal/media"
	"github.com/kimhsiao/gymnexus/backend/internal/media/origin"
	"github.com/kimhsiao/gymnexus/backend/internal/netmon"
	"github.com/kimhsiao/gymnexus/backend/internal/records"
	"github.com/kimhsiao/gymnexus/backend/internal/remote"
	syncpkg "github.com/kimhsiao/gymnexus/backend/internal/sync"
	"github.com/kimhsiao/gymnexus/backend/internal/sync/queue"
	"github.com/kimhsiao/gymnexus/backend/internal/sync/scheduler"
	"github.com/kimhsiao/gymnexus/backend/internal/telemetry"
)

// App owns every long-lived component. Build it with New and release it
// with Close.
type App struct {
	Config    *config.Config
	Clock     clock.Clock
	Records   *records.Store
	Queue     *queue.Queue
	Media     *media.Cache
	Network   *netmon.Monitor
	Prober    *netmon.Prober
	Remote    remote.Service
	Sync      *syncpkg.Coordinator
	Scheduler *scheduler.Scheduler

	shutdownTelemetry func(context.Context) error
	closers           []func() error

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type options struct {
	clock   clock.Clock
	remote  remote.Service
	fetcher media.Fetcher
}

// Option overrides a component, mostly for tests.
type Option func(*options)

// WithClock replaces the wall clock.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithRemote replaces the HTTP remote client.
func WithRemote(svc remote.Service) Option {
	return func(o *options) { o.remote = svc }
}

// WithFetcher replaces the origin router used by the media cache.
func WithFetcher(f media.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// New opens the stores under cfg.DataDir and wires the components. On
// error everything opened so far is closed again.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Clock: o.clock}
	defer func() {
		if err != nil {
			a.closeAll()
			if a.shutdownTelemetry != nil {
				a.shutdownTelemetry(context.WithoutCancel(ctx))
			}
		}
	}()

	a.shutdownTelemetry, err = telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "setup telemetry", err)
	}

	a.Remote = o.remote
	if a.Remote == nil {
		if cfg.Remote.BaseURL == "" {
			return nil, apperrors.New(apperrors.ErrValidation, "remote.base_url is required")
		}
		a.Remote = remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Token, cfg.Remote.Timeout)
	}

	// Without a probe target there is nothing to contradict optimism.
	probeURL := cfg.ProbeURL()
	a.Network = netmon.New(a.Clock, cfg.Network.Settle, probeURL == "")
	a.closers = append(a.closers, func() error { a.Network.Close(); return nil })
	if probeURL != "" {
		a.Prober = netmon.NewProber(probeURL, cfg.Network.ProbeInterval, a.Clock, a.Network)
	}

	dbOpts := db.Options{}
	if a.Records, err = records.Open(cfg.DataDir, dbOpts); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Records.Close)

	qcfg := queue.Config{
		MaxAttempts:    cfg.Sync.MaxAttempts,
		InitialBackoff: cfg.Sync.InitialBackoff,
		MaxBackoff:     cfg.Sync.MaxBackoff,
		MaxSize:        cfg.Sync.QueueMaxSize,
	}
	if a.Queue, err = queue.Open(cfg.DataDir, dbOpts, qcfg, a.Clock); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Queue.Close)

	fetcher := o.fetcher
	if fetcher == nil {
		router, err := BuildOrigins(ctx, cfg)
		if err != nil {
			return nil, err
		}
		fetcher = router
	}
	a.Media, err = media.Open(ctx, media.Config{
		Dir:            cfg.DataDir,
		MaxObjectBytes: config.MB(cfg.Media.MaxObjectMB),
		FetchTimeout:   cfg.Media.FetchTimeout,
		DB:             dbOpts,
	}, fetcher, a.Network, a.Clock)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Media.Close)

	a.Sync, err = syncpkg.New(ctx, a.Records, a.Queue, a.Remote, a.Network, a.Media, a.Clock, syncpkg.Config{
		BatchSize:          cfg.Sync.BatchSize,
		RemoteTimeout:      cfg.Remote.Timeout,
		TombstoneRetention: cfg.Sync.TombstoneRetention,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { a.Sync.Close(); return nil })

	a.Scheduler = scheduler.New(a.Sync, a.Media, a.Network, a.Clock, scheduler.Config{
		SyncInterval:    cfg.Sync.Interval,
		CleanupInterval: cfg.Media.CleanupInterval,
		SyncTimeout:     cfg.Sync.CycleTimeout,
		Cleanup: media.CleanupOptions{
			BudgetBytes:              cfg.CleanupBudgetBytes(),
			MaxAge:                   cfg.Media.MaxAge,
			PreserveHighPriority:     cfg.Media.PreserveHighPriority,
			PreserveRecentlyAccessed: cfg.Media.PreserveRecentlyAccessed,
		},
	})

	logging.Info("App initialized", map[string]interface{}{
		"data_dir":  cfg.DataDir,
		"remote":    cfg.Remote.BaseURL,
		"probe_url": probeURL,
		"tracing":   telemetry.IsEnabled(),
	})
	return a, nil
}

// BuildOrigins registers the media origins enabled in cfg. HTTP(S) is
// always present.
func BuildOrigins(ctx context.Context, cfg *config.Config) (*origin.Router, error) {
	router := origin.NewRouter()
	httpFetcher := origin.NewHTTPFetcher(cfg.Media.FetchTimeout)
	router.Register("http", httpFetcher)
	router.Register("https", httpFetcher)

	if cfg.Origins.S3.Enabled {
		f, err := origin.NewS3Fetcher(ctx, cfg.Origins.S3.S3Config)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "configure s3 origin", err)
		}
		router.Register("s3", f)
	}
	if cfg.Origins.MinIO.Enabled {
		f, err := origin.NewMinIOFetcher(cfg.Origins.MinIO.MinIOConfig)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "configure minio origin", err)
		}
		router.Register("minio", f)
	}
	return router, nil
}

// Start launches the prober and the scheduler. It returns immediately.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true

	ctx, a.cancel = context.WithCancel(ctx)
	if a.Prober != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Prober.Run(ctx)
		}()
	}
	a.Scheduler.Start(ctx)
}

// Close stops background work and releases every component in reverse
// order of creation.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.Scheduler.Stop()
		a.cancel()
		a.wg.Wait()
		a.started = false
	}
	a.mu.Unlock()

	err := a.closeAll()
	if a.shutdownTelemetry != nil {
		err = errors.Join(err, a.shutdownTelemetry(ctx))
	}
	return err
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
