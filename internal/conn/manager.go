package conn

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/wppguard/internal/bus"
	"github.com/matheus3301/wppguard/internal/proc"
	"github.com/matheus3301/wppguard/internal/status"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// CodeNone marks a disconnect that carried no status code.
const CodeNone = 0

// Session is the network connection the manager keeps alive.
type Session interface {
	Connect() error
	Disconnect()
	NotifyOwner(ctx context.Context, text string) error
	FollowChannel(ctx context.Context, jid string) error
	WipeCredentials() error
}

// Exiter terminates the process.
type Exiter interface {
	Exit(code int, reason string)
}

// Config holds the reconnect policy.
type Config struct {
	BaseDelay     time.Duration
	Growth        float64
	MaxDelay      time.Duration
	MaxAttempts   int
	Jitter        bool
	Channels      []string
	NotifyTimeout time.Duration
}

// DefaultConfig returns the reconnect policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseDelay:     2 * time.Second,
		Growth:        1.5,
		MaxDelay:      60 * time.Second,
		MaxAttempts:   10,
		NotifyTimeout: 20 * time.Second,
	}
}

// IsFatal reports whether a disconnect code means the credentials are no
// longer valid, so reconnecting in-process cannot succeed.
func IsFatal(code int) bool {
	return code != CodeNone && events.ConnectFailureReason(code).IsLoggedOut()
}

type stopper interface {
	Stop() bool
}

// Manager owns the socket lifecycle: it connects, schedules reconnects with
// capped exponential backoff and gives up on fatal sessions or after too
// many attempts.
type Manager struct {
	cfg     Config
	machine *status.Machine
	session Session
	exit    Exiter
	bus     *bus.Bus
	logger  *zap.Logger

	afterFunc func(d time.Duration, f func()) stopper

	mu       sync.Mutex
	ctx      context.Context
	attempts int
	pending  stopper
	greeted  bool
	stopped  bool
}

// NewManager creates a connection manager.
func NewManager(cfg Config, machine *status.Machine, session Session, exit Exiter, b *bus.Bus, logger *zap.Logger) *Manager {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultConfig().NotifyTimeout
	}
	return &Manager{
		cfg:     cfg,
		machine: machine,
		session: session,
		exit:    exit,
		bus:     b,
		logger:  logger,
		ctx:     context.Background(),
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Start moves IDLE → CONNECTING and opens the socket.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	if err := m.machine.Transition(status.Connecting); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	go m.connect()
	return nil
}

// Stop cancels any pending reconnect and ignores further socket events.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.cancelPendingLocked()
}

// Attempts returns the current reconnect counter.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// ReconnectPending reports whether a reconnect timer is armed.
func (m *Manager) ReconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// HandleOpen records a completed handshake.
func (m *Manager) HandleOpen() {
	m.mu.Lock()
	if m.stopped || m.machine.Current() != status.Connecting {
		m.mu.Unlock()
		return
	}
	if err := m.machine.Transition(status.Open); err != nil {
		m.mu.Unlock()
		m.logger.Warn("unexpected open event", zap.Error(err))
		return
	}
	m.attempts = 0
	m.cancelPendingLocked()
	first := !m.greeted
	m.greeted = true
	ctx := m.ctx
	m.mu.Unlock()

	m.logger.Info("connection open")
	m.bus.Emit(bus.KindConnected, first)
	go m.announce(ctx, first)
}

// HandleClosed records a disconnect carrying an optional status code.
func (m *Manager) HandleClosed(code int) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	current := m.machine.Current()
	if current == status.FatalSession {
		m.mu.Unlock()
		return
	}

	if IsFatal(code) {
		m.cancelPendingLocked()
		_ = m.machine.Transition(status.FatalSession)
		m.mu.Unlock()
		m.failSession(code)
		return
	}

	if current != status.Connecting && current != status.Open {
		m.mu.Unlock()
		m.logger.Debug("ignoring disconnect", zap.String("state", string(current)), zap.Int("code", code))
		return
	}
	if err := m.machine.Transition(status.Closed); err != nil {
		m.mu.Unlock()
		m.logger.Warn("unexpected close event", zap.Error(err))
		return
	}
	m.attempts++
	attempt := m.attempts
	if attempt > m.cfg.MaxAttempts {
		m.mu.Unlock()
		m.logger.Error("reconnect attempts exhausted", zap.Int("attempts", attempt-1), zap.Int("code", code))
		m.exit.Exit(proc.ExitReconnectExhausted, "reconnect attempts exhausted")
		return
	}
	if m.pending != nil {
		m.mu.Unlock()
		return
	}
	delay := Backoff(m.cfg, attempt)
	if m.cfg.Jitter {
		delay = withJitter(delay, m.cfg.MaxDelay)
	}
	m.pending = m.afterFunc(delay, m.fireReconnect)
	m.mu.Unlock()

	m.logger.Warn("connection closed, reconnect scheduled",
		zap.Int("code", code),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)
}

// HandlePairing logs that a pairing code is available. It never changes state.
func (m *Manager) HandlePairing(code string) {
	m.logger.Info("pairing code available", zap.Int("length", len(code)))
	m.bus.Emit(bus.KindPairing, code)
}

func (m *Manager) fireReconnect() {
	m.mu.Lock()
	if m.pending == nil || m.stopped {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	if m.machine.Current() != status.Closed {
		m.mu.Unlock()
		return
	}
	if err := m.machine.Transition(status.Connecting); err != nil {
		m.mu.Unlock()
		m.logger.Warn("reconnect aborted", zap.Error(err))
		return
	}
	m.mu.Unlock()

	m.logger.Info("reconnecting")
	m.connect()
}

func (m *Manager) connect() {
	if err := m.session.Connect(); err != nil {
		m.logger.Warn("connect failed", zap.Error(err))
		m.HandleClosed(CodeNone)
	}
}

func (m *Manager) failSession(code int) {
	m.logger.Error("session invalidated, wiping credentials", zap.Int("code", code))
	if err := m.session.WipeCredentials(); err != nil {
		m.logger.Error("failed to wipe credentials", zap.Error(err))
	}
	m.exit.Exit(proc.ExitFatalSession, "session invalidated")
}

// announce performs the best-effort side effects of a fresh connection.
func (m *Manager) announce(ctx context.Context, first bool) {
	if first {
		nctx, cancel := context.WithTimeout(ctx, m.cfg.NotifyTimeout)
		if err := m.session.NotifyOwner(nctx, "wppguard connected. Deleted messages will be forwarded here."); err != nil {
			m.logger.Warn("failed to send connected notice", zap.Error(err))
		}
		cancel()
	}
	for _, ch := range m.cfg.Channels {
		fctx, cancel := context.WithTimeout(ctx, m.cfg.NotifyTimeout)
		if err := m.session.FollowChannel(fctx, ch); err != nil {
			m.logger.Warn("failed to follow channel", zap.String("channel", ch), zap.Error(err))
		}
		cancel()
	}
}

// cancelPendingLocked must be called with mu held.
func (m *Manager) cancelPendingLocked() {
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
}
