// Package commands implements the built-in chat commands the gateway answers
// when the owner sends them from their own account.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wppguard/internal/cache"
	"github.com/matheus3301/wppguard/internal/content"
	"github.com/matheus3301/wppguard/internal/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// Prefix marks a message as a command.
const Prefix = "!"

// Replier sends a text reply into a chat.
type Replier interface {
	SendText(ctx context.Context, jid types.JID, text string) (string, error)
}

// Counter reports dispatcher throughput.
type Counter interface {
	Counts() (handled, failed uint64)
}

// JournalStats reports persisted recovery outcomes.
type JournalStats interface {
	Stats() (*store.RecoveryStats, error)
}

// Handler answers !ping and !stats. Every other message is accepted silently.
type Handler struct {
	reply   Replier
	cache   *cache.Cache
	journal JournalStats
	counter Counter
	started time.Time
	logger  *zap.Logger
}

// New creates a command handler. journal may be nil.
func New(reply Replier, c *cache.Cache, journal JournalStats, logger *zap.Logger) *Handler {
	return &Handler{
		reply:   reply,
		cache:   c,
		journal: journal,
		started: time.Now(),
		logger:  logger,
	}
}

// SetCounter attaches the dispatcher once it exists.
func (h *Handler) SetCounter(c Counter) {
	h.counter = c
}

// Handle implements dispatch.Handler.
func (h *Handler) Handle(ctx context.Context, msg *events.Message) error {
	if !msg.Info.IsFromMe {
		return nil
	}
	text := strings.TrimSpace(content.ExtractText(msg.Message))
	name, ok := strings.CutPrefix(text, Prefix)
	if !ok {
		return nil
	}
	name, _, _ = strings.Cut(strings.ToLower(name), " ")

	var out string
	switch name {
	case "ping":
		out = "pong"
	case "stats":
		out = h.stats()
	default:
		return nil
	}

	h.logger.Debug("answering command", zap.String("command", name), zap.String("chat", msg.Info.Chat.String()))
	if _, err := h.reply.SendText(ctx, msg.Info.Chat, out); err != nil {
		return fmt.Errorf("reply to %s: %w", name, err)
	}
	return nil
}

func (h *Handler) stats() string {
	var b strings.Builder
	cs := h.cache.Stats()
	fmt.Fprintf(&b, "Uptime: %s\n", time.Since(h.started).Truncate(time.Second))
	fmt.Fprintf(&b, "Cache: %d/%d entries, %d evicted, %d trimmed\n", cs.Size, cs.Max, cs.Evictions, cs.Trimmed)
	fmt.Fprintf(&b, "Lookups: %d hits, %d misses", cs.Hits, cs.Misses)
	if h.counter != nil {
		handled, failed := h.counter.Counts()
		fmt.Fprintf(&b, "\nHandled: %d messages, %d failed", handled, failed)
	}
	if h.journal != nil {
		js, err := h.journal.Stats()
		if err != nil {
			h.logger.Warn("journal stats unavailable", zap.Error(err))
		} else {
			fmt.Fprintf(&b, "\nRecoveries: %d total", js.Total)
		}
	}
	return b.String()
}
