package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/config"
	"github.com/MarquesJr132/stock-system/internal/data"
	"github.com/MarquesJr132/stock-system/internal/logger"
	"github.com/MarquesJr132/stock-system/internal/network"
	"github.com/MarquesJr132/stock-system/internal/reconcile"
	"github.com/MarquesJr132/stock-system/internal/remote"
	"github.com/MarquesJr132/stock-system/internal/remote/httpapi"
	"github.com/MarquesJr132/stock-system/internal/remote/memory"
	"github.com/MarquesJr132/stock-system/internal/remote/sqlbackend"
	"github.com/MarquesJr132/stock-system/internal/status"
	"github.com/MarquesJr132/stock-system/internal/store"
)

// app holds the client components wired from configuration.
type app struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *store.Store
	backend    remote.Backend
	tracker    *status.Tracker
	service    *data.Service
	reconciler *reconcile.Reconciler
	monitor    *network.Monitor

	closeBackend func() error
}

// loadConfig reads the configuration and builds the logger for opts.
func loadConfig(opts *RootOptions) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logCfg := cfg.Logger
	if opts.Verbose {
		logCfg = logger.Verbose(logCfg)
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return config.Config{}, nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	return cfg, log, nil
}

// openApp opens the local store and the configured backend. The tracker
// starts offline; callers probe or run the monitor to go online. If the
// local store cannot be opened the client runs remote-only: reads and
// writes need the backend and nothing is queued.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, log, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Warn("local storage unavailable, running remote-only",
			zap.String("db", cfg.DBPath),
			zap.Error(err))
		st = nil
	}

	backend, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		if st != nil {
			st.Close()
		}
		return nil, WrapExitError(ExitCommandError, "failed to open backend", err)
	}

	var (
		local    data.LocalStore
		oplog    reconcile.OperationLog
		pending  network.PendingCounter
		lastSync time.Time
	)
	recOpts := []reconcile.Option{
		reconcile.WithLogger(log.Named("reconcile")),
		reconcile.WithOperationTimeout(cfg.Sync.RequestTimeout),
	}
	if st != nil {
		local, oplog, pending = st, st, st
		recOpts = append(recOpts, reconcile.WithLastSyncStore(st))
		if lastSync, err = st.LastSync(ctx); err != nil {
			log.Warn("failed to read last sync", zap.Error(err))
		}
	}

	tracker := status.New(false, lastSync)
	if pending != nil {
		if n, err := pending.PendingCount(ctx); err == nil {
			tracker.SetPending(n)
		}
	}

	svc := data.New(data.Config{
		Backend:  backend,
		Local:    local,
		Tracker:  tracker,
		Identity: data.Identity{TenantID: cfg.Tenant.ID, ActorID: cfg.Tenant.Actor},
		Timeout:  cfg.Sync.RequestTimeout,
		Logger:   log.Named("data"),
	})
	rec := reconcile.New(oplog, backend, tracker, append(recOpts, reconcile.WithRefresher(svc))...)
	mon := network.New(tracker, rec, pending,
		network.WithDebounce(cfg.Sync.Debounce),
		network.WithLogger(log.Named("network")),
	)

	return &app{
		cfg:          cfg,
		logger:       log,
		store:        st,
		backend:      backend,
		tracker:      tracker,
		service:      svc,
		reconciler:   rec,
		monitor:      mon,
		closeBackend: closeBackend,
	}, nil
}

// probe pings the backend once and records the outcome in the tracker
// without scheduling an automatic sync.
func (a *app) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Sync.RequestTimeout)
	defer cancel()
	err := a.backend.Ping(ctx)
	online := err == nil || !remote.IsTransient(err)
	if !online {
		a.logger.Info("backend unreachable", zap.Error(err))
	}
	a.tracker.SetOnline(online)
	return online
}

func (a *app) Close() error {
	a.monitor.Stop()
	var errs []error
	if err := a.closeBackend(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// openBackend builds the remote collaborator named by cfg.Remote.
func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (remote.Backend, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Remote.Kind {
	case config.RemoteMemory:
		log.Warn("using an in-memory backend; data is lost on exit")
		return memory.New(), noop, nil

	case config.RemoteSQL:
		b, err := sqlbackend.Open(cfg.Remote.Driver, cfg.Remote.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := b.Migrate(ctx); err != nil {
			b.Close()
			return nil, nil, err
		}
		return b, b.Close, nil

	case config.RemoteHTTP:
		client := &http.Client{Timeout: cfg.Sync.RequestTimeout}
		return httpapi.NewClient(cfg.Remote.URL, client), noop, nil
	}
	return nil, nil, fmt.Errorf("unknown remote kind %q", cfg.Remote.Kind)
}

// commandContext returns the command's context, or Background when the
// command runs without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
