package daemon

import (
	"context"

	"github.com/matheus3301/wppguard/internal/bus"
	"github.com/matheus3301/wppguard/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GatewayService is the health service name reported for the WhatsApp connection.
const GatewayService = "wppguard.Gateway"

// Health mirrors the connection state into the gRPC health service. The
// gateway is SERVING only while the connection is OPEN.
type Health struct {
	srv    *health.Server
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHealth creates a health reporter starting in NOT_SERVING.
func NewHealth(b *bus.Bus, logger *zap.Logger) *Health {
	h := &Health{
		srv:    health.NewServer(),
		bus:    b,
		logger: logger,
	}
	h.set(status.Idle)
	return h
}

// Server returns the gRPC health implementation.
func (h *Health) Server() healthpb.HealthServer {
	return h.srv
}

// Start follows "conn.state_changed" events on the bus.
func (h *Health) Start(ctx context.Context) {
	ctx, h.cancel = context.WithCancel(ctx)
	h.done = make(chan struct{})
	ch, unsub := h.bus.Subscribe(bus.KindStateChanged, 16)

	go func() {
		defer close(h.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if change, ok := evt.Payload.(status.StatusChange); ok {
					h.set(change.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop marks every service NOT_SERVING and stops following the bus.
func (h *Health) Stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
	}
	h.srv.Shutdown()
}

func (h *Health) set(state status.State) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if state == status.Open {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	h.logger.Debug("health updated", zap.String("state", string(state)), zap.Stringer("serving", serving))
	h.srv.SetServingStatus("", serving)
	h.srv.SetServingStatus(GatewayService, serving)
}
