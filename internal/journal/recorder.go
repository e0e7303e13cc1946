// Package journal persists recovery outcomes. Only metadata is written:
// message content never reaches the database.
package journal

import (
	"context"
	"time"

	"github.com/matheus3301/wppguard/internal/bus"
	"github.com/matheus3301/wppguard/internal/recovery"
	"github.com/matheus3301/wppguard/internal/store"
	"go.uber.org/zap"
)

// Retention is how long journal rows are kept.
const Retention = 30 * 24 * time.Hour

// Recorder subscribes to "recovery." events on the bus and writes them to the store.
type Recorder struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRecorder creates a new journal recorder.
func NewRecorder(db *store.DB, b *bus.Bus, logger *zap.Logger) *Recorder {
	return &Recorder{
		db:     db,
		bus:    b,
		logger: logger,
	}
}

// Start prunes expired rows and subscribes to recovery outcomes on the bus.
func (r *Recorder) Start(ctx context.Context) {
	if n, err := r.db.PruneRecoveries(time.Now().Add(-Retention)); err != nil {
		r.logger.Warn("failed to prune journal", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("journal pruned", zap.Int64("rows", n))
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	ch, unsub := r.bus.Subscribe("recovery.", 256)

	go func() {
		defer close(r.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the recorder and waits for the subscription loop to exit.
func (r *Recorder) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *Recorder) handleEvent(evt bus.Event) {
	if evt.Kind != bus.KindRecoveryComplete {
		return
	}
	res, ok := evt.Payload.(recovery.Result)
	if !ok {
		return
	}
	if err := r.Record(res); err != nil {
		r.logger.Error("failed to journal recovery", zap.Error(err), zap.String("msg_id", res.Revocation.ID))
	}
}

// Record writes one outcome. Ignored revocations are not journaled.
func (r *Recorder) Record(res recovery.Result) error {
	if res.Outcome == recovery.OutcomeIgnored {
		return nil
	}
	return r.db.RecordRecovery(store.Recovery{
		ID:          res.ID,
		ChatJID:     res.Revocation.Chat,
		MsgID:       res.Revocation.ID,
		SenderJID:   res.Sender,
		RevokerJID:  res.Revocation.Revoker,
		Variant:     string(res.Variant),
		Outcome:     string(res.Outcome),
		Detail:      res.Detail,
		RecoveredAt: res.At,
	})
}
