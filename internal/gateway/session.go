// Package gateway wires the connection manager, the ingress dispatcher, the
// recovery pipeline and the memory watchdog around one WhatsApp client, and
// routes the client's events through a single loop.
package gateway

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/matheus3301/wppguard/internal/bus"
	"github.com/matheus3301/wppguard/internal/cache"
	"github.com/matheus3301/wppguard/internal/conn"
	"github.com/matheus3301/wppguard/internal/dispatch"
	"github.com/matheus3301/wppguard/internal/recovery"
	"github.com/matheus3301/wppguard/internal/status"
	"github.com/matheus3301/wppguard/internal/wa"
	"github.com/matheus3301/wppguard/internal/watchdog"
	"go.uber.org/zap"
)

// Client is the WhatsApp connection the session drives. *wa.Adapter
// satisfies it.
type Client interface {
	conn.Session
	recovery.Owner
	recovery.Downloader
	Events() <-chan wa.Event
	PreparePairing(ctx context.Context) error
	PersistCredentials(ctx context.Context) error
	Close()
}

// Config groups the per-component settings.
type Config struct {
	Conn     conn.Config
	Dispatch dispatch.Options
	Recovery recovery.Options
	Watchdog watchdog.Config
	// Sampler overrides the watchdog's RSS reader.
	Sampler watchdog.Sampler
}

// Session owns every runtime component of the gateway.
type Session struct {
	client     Client
	cache      *cache.Cache
	machine    *status.Machine
	manager    *conn.Manager
	dispatcher *dispatch.Dispatcher
	pipeline   *recovery.Pipeline
	watchdog   *watchdog.Watchdog
	logger     *zap.Logger

	qrOut  io.Writer
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the session and its components. The handler receives every
// non-broadcast message in arrival order.
func New(cfg Config, client Client, c *cache.Cache, handler dispatch.Handler, exit conn.Exiter, b *bus.Bus, logger *zap.Logger) *Session {
	machine := status.NewMachine(b)
	return &Session{
		client:     client,
		cache:      c,
		machine:    machine,
		manager:    conn.NewManager(cfg.Conn, machine, client, exit, b, logger.Named("conn")),
		dispatcher: dispatch.New(c, handler, cfg.Dispatch, b, logger.Named("dispatch")),
		pipeline:   recovery.New(c, client, client, cfg.Recovery, b, logger.Named("recovery")),
		watchdog:   watchdog.New(cfg.Watchdog, c, cfg.Sampler, exit, b, logger.Named("watchdog")),
		logger:     logger,
		qrOut:      os.Stderr,
	}
}

// Machine returns the connection state machine.
func (s *Session) Machine() *status.Machine { return s.machine }

// Dispatcher returns the ingress dispatcher.
func (s *Session) Dispatcher() *dispatch.Dispatcher { return s.dispatcher }

// Cache returns the recovery cache.
func (s *Session) Cache() *cache.Cache { return s.cache }

// Start launches the workers and the event loop, then opens the connection.
func (s *Session) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.dispatcher.SetContext(ctx)
	s.pipeline.Start(ctx)
	s.watchdog.Start(ctx)

	// Pairing codes are only delivered when subscribed before the first connect.
	if err := s.client.PreparePairing(ctx); err != nil {
		s.cancel()
		return fmt.Errorf("prepare pairing: %w", err)
	}

	s.done = make(chan struct{})
	go s.run(ctx)

	return s.manager.Start(ctx)
}

// Stop tears the session down. The connection is closed last so no event is
// routed to a stopped component.
func (s *Session) Stop() {
	s.manager.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.pipeline.Stop()
	s.watchdog.Stop()
	s.client.Close()
	s.client.Disconnect()
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	events := s.client.Events()
	for {
		select {
		case evt := <-events:
			s.route(ctx, evt)
		case <-ctx.Done():
			return
		}
	}
}

// route hands one event to its component. A panicking component is logged
// and the loop carries on.
func (s *Session) route(ctx context.Context, evt wa.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panic", zap.Any("panic", r), zap.String("event", fmt.Sprintf("%T", evt)))
		}
	}()

	switch e := evt.(type) {
	case wa.ConnectionEvent:
		s.logger.Debug("connection event", zap.Stringer("state", e.State), zap.Int("code", e.Code))
		if e.State == wa.ConnOpen {
			s.manager.HandleOpen()
		} else {
			s.manager.HandleClosed(e.Code)
		}
	case wa.MessagesEvent:
		s.dispatcher.Ingest(e.Messages)
	case wa.RevokeEvent:
		rev := recovery.Revocation{
			Chat:    e.Chat,
			ID:      e.ID,
			Revoker: e.Revoker,
			FromMe:  e.FromMe,
		}
		if e.Event != nil {
			rev.At = e.Event.Info.Timestamp
		}
		s.pipeline.Submit(rev)
	case wa.PairingEvent:
		s.manager.HandlePairing(e.Code)
		s.showPairing(e)
	case wa.CredentialsEvent:
		s.logger.Info("device paired", zap.String("jid", e.JID))
		if err := s.client.PersistCredentials(ctx); err != nil {
			s.logger.Error("failed to persist credentials", zap.Error(err))
		}
	}
}

func (s *Session) showPairing(e wa.PairingEvent) {
	if e.Phone {
		s.logger.Info("enter this code on your phone under Linked devices", zap.String("code", e.Code))
		return
	}
	qr, err := wa.RenderQR(e.Code)
	if err != nil {
		s.logger.Warn("failed to render QR code", zap.Error(err))
		return
	}
	s.logger.Info("scan the QR code below with WhatsApp to link this device")
	_, _ = io.WriteString(s.qrOut, qr)
}
