package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppguard/internal/bus"
	"github.com/matheus3301/wppguard/internal/cache"
	"github.com/matheus3301/wppguard/internal/content"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protojson"
)

var (
	// ErrTooLarge is returned when media exceeds the configured ceiling.
	ErrTooLarge = errors.New("media exceeds size limit")
	// ErrNoMedia is returned when a media variant has nothing to download.
	ErrNoMedia = errors.New("message has no downloadable media")
)

// Revocation is a "deleted for everyone" notice for a single message.
type Revocation struct {
	Chat    string
	ID      string
	Revoker string
	// FromMe is set when the account itself issued the deletion.
	FromMe bool
	At     time.Time
}

// Key returns the cache key of the revoked message.
func (r Revocation) Key() cache.Key {
	return cache.Key{Chat: r.Chat, ID: r.ID}
}

// Owner delivers recovered content to the account owner.
type Owner interface {
	NotifyOwner(ctx context.Context, text string) error
	SendOwnerMedia(ctx context.Context, media content.Media, data []byte) error
}

// Downloader fetches the media bytes referenced by a message.
type Downloader interface {
	Download(ctx context.Context, msg *waE2E.Message) ([]byte, error)
}

// Outcome classifies how a revocation was handled.
type Outcome string

const (
	OutcomeIgnored  Outcome = "ignored"
	OutcomeMiss     Outcome = "miss"
	OutcomeText     Outcome = "text"
	OutcomeMedia    Outcome = "media"
	OutcomeFallback Outcome = "fallback"
	OutcomeFailed   Outcome = "failed"
)

// Recovered reports whether the content reached the owner.
func (o Outcome) Recovered() bool {
	return o == OutcomeText || o == OutcomeMedia || o == OutcomeFallback
}

// Result is published on the bus for every processed revocation.
type Result struct {
	ID         string
	Revocation Revocation
	Sender     string
	Variant    content.Variant
	Outcome    Outcome
	Detail     string
	At         time.Time
}

// Options tunes the pipeline.
type Options struct {
	Interval        time.Duration
	MediaMaxBytes   int64
	DownloadTimeout time.Duration
	SendTimeout     time.Duration
	DumpLimit       int
	QueueSize       int
}

// DefaultOptions returns the pipeline defaults.
func DefaultOptions() Options {
	return Options{
		Interval:        1500 * time.Millisecond,
		MediaMaxBytes:   50 << 20,
		DownloadTimeout: 60 * time.Second,
		SendTimeout:     60 * time.Second,
		DumpLimit:       3500,
		QueueSize:       1024,
	}
}

// Pipeline turns revocation notices into owner-directed re-deliveries.
// Revocations are processed one at a time with at least Interval between
// two processed items so bulk deletions do not flood the owner chat.
type Pipeline struct {
	cache      *cache.Cache
	owner      Owner
	downloader Downloader
	opts       Options
	bus        *bus.Bus
	logger     *zap.Logger

	queue  chan Revocation
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a recovery pipeline.
func New(c *cache.Cache, owner Owner, downloader Downloader, opts Options, b *bus.Bus, logger *zap.Logger) *Pipeline {
	def := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.DumpLimit <= 0 {
		opts.DumpLimit = def.DumpLimit
	}
	if opts.MediaMaxBytes <= 0 {
		opts.MediaMaxBytes = def.MediaMaxBytes
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = def.DownloadTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = def.SendTimeout
	}
	return &Pipeline{
		cache:      c,
		owner:      owner,
		downloader: downloader,
		opts:       opts,
		bus:        b,
		logger:     logger,
		queue:      make(chan Revocation, opts.QueueSize),
	}
}

// Start launches the worker.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.loop(ctx)
}

// Stop stops the worker and waits for the in-flight item.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

// Submit queues a revocation. Returns false when the queue is full.
func (p *Pipeline) Submit(rev Revocation) bool {
	select {
	case p.queue <- rev:
		return true
	default:
		p.logger.Warn("recovery queue full, dropping revocation",
			zap.String("chat", rev.Chat),
			zap.String("msg_id", rev.ID),
		)
		return false
	}
}

func (p *Pipeline) loop(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case rev := <-p.queue:
			res := p.safeProcess(ctx, rev)
			if res.Outcome == OutcomeIgnored || p.opts.Interval <= 0 {
				continue
			}
			select {
			case <-time.After(p.opts.Interval):
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) safeProcess(ctx context.Context, rev Revocation) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("recovery panic", zap.Any("panic", r), zap.String("msg_id", rev.ID))
			res = Result{Revocation: rev, Outcome: OutcomeFailed, Detail: fmt.Sprint(r)}
		}
	}()
	return p.Process(ctx, rev)
}

// Process runs the decision procedure for one revocation synchronously.
func (p *Pipeline) Process(ctx context.Context, rev Revocation) Result {
	res := Result{ID: uuid.NewString(), Revocation: rev, At: time.Now()}

	if rev.FromMe || !rev.Key().Valid() {
		res.Outcome = OutcomeIgnored
		return res
	}

	entry, ok := p.cache.Get(rev.Key())
	if !ok {
		res.Outcome = OutcomeMiss
		p.notify(ctx, fmt.Sprintf("A message was deleted in %s but could not be recovered.", rev.Chat))
		return p.finish(res)
	}

	res.Sender = entry.Sender
	res.Variant = content.Detect(entry.Message)
	header := formatHeader(entry, rev)

	var err error
	switch {
	case res.Variant == content.Text:
		res.Outcome = OutcomeText
		err = p.send(ctx, header+"\n\n"+content.ExtractText(entry.Message))
	case res.Variant.IsMedia():
		res.Outcome = OutcomeMedia
		err = p.reupload(ctx, entry, header)
	default:
		res.Outcome = OutcomeFallback
		err = p.send(ctx, header+"\n\n"+p.dump(entry.Message))
	}

	if err != nil {
		res.Outcome = OutcomeFailed
		res.Detail = err.Error()
		p.logger.Warn("recovery failed",
			zap.Error(err),
			zap.String("chat", rev.Chat),
			zap.String("msg_id", rev.ID),
			zap.String("variant", string(res.Variant)),
		)
		p.notify(ctx, fmt.Sprintf("A %s message deleted in %s could not be reuploaded: %v", res.Variant, rev.Chat, err))
		return p.finish(res)
	}

	p.cache.Delete(rev.Key())
	return p.finish(res)
}

func (p *Pipeline) reupload(ctx context.Context, entry *cache.Entry, header string) error {
	media, ok := content.DescribeMedia(entry.Message)
	if !ok {
		return ErrNoMedia
	}
	if media.Length > uint64(p.opts.MediaMaxBytes) {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, media.Length)
	}

	dctx, cancel := context.WithTimeout(ctx, p.opts.DownloadTimeout)
	data, err := p.downloader.Download(dctx, content.Unwrap(entry.Message))
	cancel()
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if int64(len(data)) > p.opts.MediaMaxBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	if media.Caption != "" {
		media.Caption = header + "\n\n" + media.Caption
	} else {
		media.Caption = header
	}

	sctx, cancel := context.WithTimeout(ctx, p.opts.SendTimeout)
	defer cancel()
	if err := p.owner.SendOwnerMedia(sctx, media, data); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	// Audio and stickers carry no caption, so the header goes separately.
	if media.Variant == content.Audio || media.Variant == content.Sticker {
		if err := p.owner.NotifyOwner(sctx, header); err != nil {
			p.logger.Warn("failed to send media header", zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) send(ctx context.Context, text string) error {
	sctx, cancel := context.WithTimeout(ctx, p.opts.SendTimeout)
	defer cancel()
	return p.owner.NotifyOwner(sctx, text)
}

func (p *Pipeline) notify(ctx context.Context, text string) {
	if err := p.send(ctx, text); err != nil {
		p.logger.Warn("failed to send recovery notice", zap.Error(err))
	}
}

func (p *Pipeline) dump(msg *waE2E.Message) string {
	raw, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(content.Unwrap(msg))
	if err != nil {
		return fmt.Sprintf("(unsupported message, preview unavailable: %v)", err)
	}
	s := string(raw)
	if len(s) > p.opts.DumpLimit {
		s = s[:p.opts.DumpLimit] + "\n…(truncated)"
	}
	return s
}

func (p *Pipeline) finish(res Result) Result {
	p.logger.Info("revocation processed",
		zap.String("id", res.ID),
		zap.String("chat", res.Revocation.Chat),
		zap.String("msg_id", res.Revocation.ID),
		zap.String("outcome", string(res.Outcome)),
	)
	p.bus.Emit(bus.KindRecoveryComplete, res)
	return res
}

func formatHeader(entry *cache.Entry, rev Revocation) string {
	var b strings.Builder
	b.WriteString("Deleted message recovered\n")
	from := entry.Sender
	if entry.PushName != "" {
		from = fmt.Sprintf("%s (%s)", entry.PushName, entry.Sender)
	}
	fmt.Fprintf(&b, "From: %s\n", from)
	fmt.Fprintf(&b, "Chat: %s", rev.Chat)
	if !entry.SentAt.IsZero() {
		fmt.Fprintf(&b, "\nSent: %s", entry.SentAt.Format(time.RFC3339))
	}
	return b.String()
}
