package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheus3301/wppguard/internal/bus"
	"github.com/matheus3301/wppguard/internal/cache"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// DefaultItemDelay is the pause between two handled messages.
const DefaultItemDelay = 50 * time.Millisecond

// Handler consumes normal chat traffic, one message at a time.
type Handler interface {
	Handle(ctx context.Context, msg *events.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *events.Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *events.Message) error {
	return f(ctx, msg)
}

// Options tunes the dispatcher.
type Options struct {
	ItemDelay time.Duration
	// CacheStatus lets broadcast/status traffic into the recovery cache.
	CacheStatus bool
}

// Dispatcher caches inbound messages and feeds normal traffic to a Handler
// in arrival order, strictly one at a time.
type Dispatcher struct {
	cache   *cache.Cache
	handler Handler
	opts    Options
	bus     *bus.Bus
	logger  *zap.Logger

	mu    sync.Mutex
	queue []*events.Message
	ctx   context.Context

	draining atomic.Bool
	handled  atomic.Uint64
	failed   atomic.Uint64
	idle     chan struct{}
}

// New creates a dispatcher.
func New(c *cache.Cache, h Handler, opts Options, b *bus.Bus, logger *zap.Logger) *Dispatcher {
	if opts.ItemDelay < 0 {
		opts.ItemDelay = 0
	}
	return &Dispatcher{
		cache:   c,
		handler: h,
		opts:    opts,
		bus:     b,
		logger:  logger,
		ctx:     context.Background(),
		idle:    make(chan struct{}, 1),
	}
}

// SetContext sets the context handed to the handler. Cancelling it stops
// the drain loop after the current item.
func (d *Dispatcher) SetContext(ctx context.Context) {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()
}

// Ingest processes one inbound batch: every message with content is cached
// immediately, status traffic is diverted, and the rest is queued.
func (d *Dispatcher) Ingest(batch []*events.Message) {
	queued := 0
	for _, msg := range batch {
		if msg == nil || msg.Info.ID == "" || msg.Info.Chat.IsEmpty() {
			continue
		}
		broadcast := isBroadcast(msg)
		if !broadcast || d.opts.CacheStatus {
			d.remember(msg, broadcast)
		}
		if broadcast {
			d.handleStatus(msg)
			continue
		}
		d.mu.Lock()
		d.queue = append(d.queue, msg)
		d.mu.Unlock()
		queued++
	}
	if queued > 0 {
		d.bus.Emit(bus.KindMessageQueued, queued)
		d.Kick()
	}
}

// Kick starts the drain loop unless one is already running.
func (d *Dispatcher) Kick() {
	if !d.draining.CompareAndSwap(false, true) {
		return
	}
	go d.drain()
}

// Pending returns the number of queued, not yet handled messages.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Counts returns how many messages were handled and how many of those failed.
func (d *Dispatcher) Counts() (handled, failed uint64) {
	return d.handled.Load(), d.failed.Load()
}

// Idle returns a channel signalled each time the drain loop empties the queue.
func (d *Dispatcher) Idle() <-chan struct{} {
	return d.idle
}

func (d *Dispatcher) drain() {
	for {
		msg, ctx := d.pop()
		if msg == nil {
			d.draining.Store(false)
			// An Ingest may have appended after pop saw an empty queue but
			// before the flag was cleared.
			if d.Pending() > 0 && d.draining.CompareAndSwap(false, true) {
				continue
			}
			select {
			case d.idle <- struct{}{}:
			default:
			}
			return
		}
		if ctx.Err() != nil {
			d.draining.Store(false)
			return
		}

		d.handleOne(ctx, msg)

		if d.opts.ItemDelay > 0 {
			select {
			case <-time.After(d.opts.ItemDelay):
			case <-ctx.Done():
			}
		}
	}
}

func (d *Dispatcher) pop() (*events.Message, context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return nil, d.ctx
	}
	msg := d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	return msg, d.ctx
}

func (d *Dispatcher) handleOne(ctx context.Context, msg *events.Message) {
	err := d.safeHandle(ctx, msg)
	d.handled.Add(1)
	if err != nil {
		d.failed.Add(1)
		d.logger.Error("message handler failed",
			zap.Error(err),
			zap.String("chat", msg.Info.Chat.String()),
			zap.String("msg_id", msg.Info.ID),
		)
		return
	}
	d.bus.Emit(bus.KindMessageHandled, msg.Info.ID)
}

func (d *Dispatcher) safeHandle(ctx context.Context, msg *events.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handler.Handle(ctx, msg)
}

func (d *Dispatcher) remember(msg *events.Message, broadcast bool) {
	d.cache.Put(&cache.Entry{
		Key:       cache.Key{Chat: msg.Info.Chat.ToNonAD().String(), ID: msg.Info.ID},
		Sender:    msg.Info.Sender.ToNonAD().String(),
		PushName:  msg.Info.PushName,
		Message:   msg.Message,
		Broadcast: broadcast,
		SentAt:    msg.Info.Timestamp,
	})
}

func (d *Dispatcher) handleStatus(msg *events.Message) {
	d.logger.Debug("status update received",
		zap.String("sender", msg.Info.Sender.ToNonAD().String()),
		zap.String("msg_id", msg.Info.ID),
	)
	d.bus.Emit(bus.KindStatusReceived, msg.Info.ID)
}

func isBroadcast(msg *events.Message) bool {
	return msg.Info.Chat.Server == types.BroadcastServer
}
