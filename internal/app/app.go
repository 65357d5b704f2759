// Package app wires the sync core together from a Config.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Francklinok/EasyRent-sub004/internal/attachment"
	"github.com/Francklinok/EasyRent-sub004/internal/config"
	"github.com/Francklinok/EasyRent-sub004/internal/connectivity"
	"github.com/Francklinok/EasyRent-sub004/internal/db"
	"github.com/Francklinok/EasyRent-sub004/internal/logging"
	"github.com/Francklinok/EasyRent-sub004/internal/metrics"
	"github.com/Francklinok/EasyRent-sub004/internal/outbox"
	"github.com/Francklinok/EasyRent-sub004/internal/remote"
	"github.com/Francklinok/EasyRent-sub004/internal/services"
	"github.com/Francklinok/EasyRent-sub004/internal/store"
	syncengine "github.com/Francklinok/EasyRent-sub004/internal/sync"
)

const pruneInterval = time.Hour

// App is one independent sync context.
type App struct {
	Config      *config.Config
	Logger      *slog.Logger
	DB          *db.DB
	Store       *store.Store
	Outbox      *outbox.Queue
	Remote      remote.API
	Monitor     *connectivity.Monitor
	Engine      *syncengine.Engine
	Attachments *attachment.Pipeline
	Properties  *services.PropertyService
	Messages    *services.MessageService

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	closeOnce   sync.Once
}

// Option customizes Open.
type Option func(*options)

type options struct {
	remote remote.API
}

// WithRemote replaces the HTTP client, e.g. with a fake in tests.
func WithRemote(api remote.API) Option {
	return func(o *options) { o.remote = api }
}

// Open opens the database, applies migrations, builds every component and
// recovers work left over by a previous run. Reconnections drain the
// outbox.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger = logging.OrDiscard(logger)

	d, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(logger); err != nil {
		d.Close()
		return nil, err
	}

	cache, err := attachment.NewCache(cfg.CacheDir())
	if err != nil {
		d.Close()
		return nil, err
	}

	api := o.remote
	if api == nil {
		api = remote.New(cfg.APIBaseURL, cfg.RequestTimeout, remote.StaticToken(cfg.APIToken), logger)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     d,
		Store:  store.New(d),
		Outbox: outbox.New(d),
		Remote: api,
		Monitor: connectivity.New(connectivity.Options{
			Debounce:      cfg.Debounce,
			RetryInterval: cfg.RetryInterval,
		}, logger),
	}
	a.Engine = syncengine.New(d, a.Store, a.Outbox, api, logger, syncengine.WithTimeout(cfg.RequestTimeout))
	a.Attachments = attachment.New(attachment.Config{
		DB:     d,
		Store:  a.Store,
		Outbox: a.Outbox,
		Cache:  cache,
		Transform: attachment.ImageTransform{
			MaxDim:  cfg.ImageMaxDim,
			Quality: cfg.ImageQuality,
		},
		Connectivity: a.Monitor,
		Syncer:       a.Engine,
		Logger:       logger,
	})

	sc := &services.Context{
		DB:           d,
		Store:        a.Store,
		Outbox:       a.Outbox,
		Remote:       api,
		Connectivity: a.Monitor,
		Attachments:  a.Attachments,
		Syncer:       a.Engine,
		Logger:       logger,
		Timeout:      cfg.RequestTimeout,
	}
	a.Properties = services.NewPropertyService(sc)
	a.Messages = services.NewMessageService(sc)

	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.unsubscribe = a.Monitor.OnBecameConnected(func() {
		a.Engine.Kick(a.ctx)
	})

	if err := a.Engine.Recover(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("recover outbox: %w", err)
	}

	logger.Info("sync core ready",
		slog.String("data_dir", cfg.DataDir),
		slog.String("api", cfg.APIBaseURL),
	)
	return a, nil
}

// Sources returns the reachability sources enabled by the configuration.
func (a *App) Sources() []connectivity.Source {
	var sources []connectivity.Source
	if a.Config.ReachabilityFile != "" {
		sources = append(sources, connectivity.NewFileSource(a.Config.ReachabilityFile))
	}
	if a.Config.ProbeURL != "" {
		sources = append(sources, connectivity.NewProbeSource(a.Config.ProbeURL, a.Config.ProbeInterval))
	}
	return sources
}

// Run starts the monitor, the metrics endpoint and periodic maintenance,
// and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.Monitor.Start(ctx, a.Sources()...)
	defer a.Monitor.Stop()

	var srv *http.Server
	errCh := make(chan error, 1)
	if a.Config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv = &http.Server{
			Addr:              a.Config.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.Logger.Info("metrics endpoint listening", slog.String("addr", a.Config.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	a.maintain(ctx)
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-errCh:
			runErr = err
			break loop
		case <-ticker.C:
			a.maintain(ctx)
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}
	return runErr
}

// maintain prunes archived operations and orphaned attachment files.
func (a *App) maintain(ctx context.Context) {
	if a.Config.ArchiveRetention > 0 {
		n, err := a.Outbox.PruneArchived(ctx, time.Now().Add(-a.Config.ArchiveRetention))
		if err != nil {
			a.Logger.Warn("prune archived operations", slog.Any("error", err))
		} else if n > 0 {
			a.Logger.Info("pruned archived operations", slog.Int64("count", n))
		}
	}
	if _, err := a.Attachments.SweepOrphans(ctx); err != nil {
		a.Logger.Warn("sweep attachment cache", slog.Any("error", err))
	}
}

// Close stops background work and closes the database.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.unsubscribe != nil {
			a.unsubscribe()
		}
		a.Monitor.Stop()
		a.cancel()
		a.Engine.Wait()
		err = a.DB.Close()
	})
	return err
}
