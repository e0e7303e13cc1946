package daemon

import (
	"context"

	"github.com/matheus3301/wppguard/internal/bus"
	"github.com/matheus3301/wppguard/internal/cache"
	"github.com/matheus3301/wppguard/internal/commands"
	"github.com/matheus3301/wppguard/internal/config"
	"github.com/matheus3301/wppguard/internal/conn"
	"github.com/matheus3301/wppguard/internal/dispatch"
	"github.com/matheus3301/wppguard/internal/gateway"
	"github.com/matheus3301/wppguard/internal/journal"
	"github.com/matheus3301/wppguard/internal/lock"
	"github.com/matheus3301/wppguard/internal/logging"
	"github.com/matheus3301/wppguard/internal/proc"
	"github.com/matheus3301/wppguard/internal/recovery"
	"github.com/matheus3301/wppguard/internal/session"
	"github.com/matheus3301/wppguard/internal/store"
	"github.com/matheus3301/wppguard/internal/wa"
	"github.com/matheus3301/wppguard/internal/watchdog"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override; empty = ~/.wppguard/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideTerminator,
			provideLock,
			provideStore,
			provideAdapter,
			provideCache,
			provideCommands,
			provideGateway,
			provideRecorder,
			NewHealth,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.Resolve(path)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideTerminator(logger *zap.Logger) *proc.Terminator {
	return proc.NewTerminator(logger)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so the journal is never opened by two daemons.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.JournalDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("journal initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAdapter(p Params, _ *lock.Lock, cfg *config.Config, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, wa.Options{
		BootstrapTimeout: cfg.BootstrapTimeout,
		OwnerJID:         cfg.OwnerJID,
		PairPhone:        cfg.PairPhone,
	}, logger.Named("wa"))
}

func provideCache(cfg *config.Config) *cache.Cache {
	return cache.New(cfg.Cache.MaxEntries)
}

func provideCommands(adapter *wa.Adapter, c *cache.Cache, db *store.DB, logger *zap.Logger) *commands.Handler {
	return commands.New(adapter, c, db, logger.Named("commands"))
}

func provideGateway(cfg *config.Config, adapter *wa.Adapter, c *cache.Cache, handler *commands.Handler, term *proc.Terminator, b *bus.Bus, logger *zap.Logger) *gateway.Session {
	sess := gateway.New(gatewayConfig(cfg), adapter, c, handler, term, b, logger)
	handler.SetCounter(sess.Dispatcher())
	return sess
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	return gateway.Config{
		Conn: conn.Config{
			BaseDelay:     cfg.Reconnect.BaseDelay,
			Growth:        cfg.Reconnect.Growth,
			MaxDelay:      cfg.Reconnect.MaxDelay,
			MaxAttempts:   cfg.Reconnect.MaxAttempts,
			Jitter:        cfg.Reconnect.Jitter,
			Channels:      cfg.Channels,
			NotifyTimeout: cfg.Recovery.SendTimeout,
		},
		Dispatch: dispatch.Options{
			ItemDelay:   cfg.Dispatch.ItemDelay,
			CacheStatus: cfg.StatusCache,
		},
		Recovery: recovery.Options{
			Interval:        cfg.Recovery.Interval,
			MediaMaxBytes:   cfg.Recovery.MediaMaxBytes,
			DownloadTimeout: cfg.Recovery.DownloadTimeout,
			SendTimeout:     cfg.Recovery.SendTimeout,
		},
		Watchdog: watchdog.Config{
			Interval:   cfg.Watchdog.Interval,
			WarnMB:     cfg.Watchdog.WarnMB,
			CriticalMB: cfg.Watchdog.CriticalMB,
		},
	}
}

func provideRecorder(db *store.DB, b *bus.Bus, logger *zap.Logger) *journal.Recorder {
	return journal.NewRecorder(db, b, logger.Named("journal"))
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, health *Health, lk *lock.Lock, db *store.DB, gw *gateway.Session, recorder *journal.Recorder, logger *zap.Logger) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			recorder.Start(ctx)
			health.Start(ctx)

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			return gw.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			gw.Stop()
			recorder.Stop()
			health.Stop()
			if cancel != nil {
				cancel()
			}
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing journal", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
