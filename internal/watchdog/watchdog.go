package watchdog

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/matheus3301/wppguard/internal/bus"
	"github.com/matheus3301/wppguard/internal/proc"
	"go.uber.org/zap"
)

// Trimmer is the cache the watchdog shrinks under memory pressure.
type Trimmer interface {
	Trim(target int) int
	Len() int
	Max() int
}

// Exiter terminates the process.
type Exiter interface {
	Exit(code int, reason string)
}

// Sampler returns the current resident set size in MiB.
type Sampler func() (float64, error)

// Config holds the watchdog thresholds.
type Config struct {
	Interval    time.Duration
	WarnMB      float64
	CriticalMB  float64
	TrimPercent int
}

// DefaultConfig returns the watchdog defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		WarnMB:      400,
		CriticalMB:  700,
		TrimPercent: 20,
	}
}

// Action is what a single tick decided to do.
type Action string

const (
	ActionNone  Action = "none"
	ActionTrim  Action = "trim"
	ActionExit  Action = "exit"
	ActionError Action = "sample_error"
)

// Watchdog periodically samples RSS, trims the cache above the warning
// threshold and terminates the process above the critical one.
type Watchdog struct {
	cfg    Config
	cache  Trimmer
	sample Sampler
	exit   Exiter
	bus    *bus.Bus
	logger *zap.Logger
	freeOS func()
	cancel context.CancelFunc
}

// New creates a watchdog. A nil sampler uses the process RSS.
func New(cfg Config, c Trimmer, sample Sampler, exit Exiter, b *bus.Bus, logger *zap.Logger) *Watchdog {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.TrimPercent <= 0 || cfg.TrimPercent > 100 {
		cfg.TrimPercent = def.TrimPercent
	}
	if sample == nil {
		sample = ResidentMB
	}
	return &Watchdog{
		cfg:    cfg,
		cache:  c,
		sample: sample,
		exit:   exit,
		bus:    b,
		logger: logger,
		freeOS: debug.FreeOSMemory,
	}
}

// Start begins sampling on the configured interval.
func (w *Watchdog) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)
}

// Stop stops the sampling loop.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *Watchdog) loop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Tick()
		case <-ctx.Done():
			return
		}
	}
}

// Target returns the cache size the watchdog trims down to.
func (w *Watchdog) Target() int {
	return w.cache.Max() * w.cfg.TrimPercent / 100
}

// Tick takes one sample and acts on it.
func (w *Watchdog) Tick() Action {
	rss, err := w.sample()
	if err != nil {
		w.logger.Warn("memory sample failed", zap.Error(err))
		return ActionError
	}

	if w.cfg.CriticalMB > 0 && rss > w.cfg.CriticalMB {
		w.logger.Error("memory critical, exiting",
			zap.Float64("rss_mb", rss),
			zap.Float64("critical_mb", w.cfg.CriticalMB),
		)
		w.exit.Exit(proc.ExitMemoryCritical, "resident memory above critical threshold")
		return ActionExit
	}

	if w.cfg.WarnMB > 0 && rss > w.cfg.WarnMB {
		before := w.cache.Len()
		removed := w.cache.Trim(w.Target())
		w.freeOS()
		w.logger.Warn("memory high, cache trimmed",
			zap.Float64("rss_mb", rss),
			zap.Int("before", before),
			zap.Int("removed", removed),
		)
		w.bus.Emit(bus.KindCacheTrimmed, removed)
		return ActionTrim
	}

	w.logger.Debug("memory ok", zap.Float64("rss_mb", rss), zap.Int("cache", w.cache.Len()))
	return ActionNone
}
