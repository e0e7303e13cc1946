package wa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/matheus3301/wppguard/internal/content"
	"github.com/matheus3301/wppguard/internal/session"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoOwner is returned when the device has no account identity yet.
var ErrNoOwner = errors.New("owner identity unknown: device not paired")

// Options configures the adapter.
type Options struct {
	BootstrapTimeout time.Duration
	// OwnerJID overrides the account the recovery notices go to.
	OwnerJID string
	// PairPhone requests a phone pairing code instead of relying on QR only.
	PairPhone  string
	DeviceName string
}

// Adapter wraps the whatsmeow client and translates its events into the
// gateway's event stream.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	dbPath    string
	opts      Options
	logger    *zap.Logger

	events chan Event
	done   chan struct{}
	closed sync.Once
}

// NewAdapter opens the credential store for the session and builds the client.
func NewAdapter(ctx context.Context, sessionName string, opts Options, logger *zap.Logger) (*Adapter, error) {
	if opts.BootstrapTimeout <= 0 {
		opts.BootstrapTimeout = 30 * time.Second
	}
	if opts.DeviceName == "" {
		opts.DeviceName = "wppguard"
	}
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo(opts.DeviceName, [3]uint32{0, 1, 0})

	ctx, cancel := context.WithTimeout(ctx, opts.BootstrapTimeout)
	defer cancel()

	dbPath := session.SessionDBPath(sessionName)
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		NewLogger(logger, "store"),
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, NewLogger(logger, "client"))
	// Reconnects are owned by conn.Manager.
	client.EnableAutoReconnect = false

	a := &Adapter{
		client:    client,
		container: container,
		dbPath:    dbPath,
		opts:      opts,
		logger:    logger,
		events:    make(chan Event, 512),
		done:      make(chan struct{}),
	}
	client.AddEventHandler(a.handle)
	return a, nil
}

// Events returns the translated event stream.
func (a *Adapter) Events() <-chan Event {
	return a.events
}

// Close stops forwarding events. The client must be disconnected separately.
func (a *Adapter) Close() {
	a.closed.Do(func() { close(a.done) })
}

func (a *Adapter) handle(rawEvt any) {
	evt, ok := Translate(rawEvt)
	if !ok {
		return
	}
	a.push(evt)
}

func (a *Adapter) push(evt Event) {
	select {
	case a.events <- evt:
	case <-a.done:
	}
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// Connect opens the websocket. Completion is reported as a ConnectionEvent.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the websocket.
func (a *Adapter) Disconnect() {
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// OwnerJID returns the account the gateway is authenticated as.
func (a *Adapter) OwnerJID() (types.JID, error) {
	if a.opts.OwnerJID != "" {
		jid, err := types.ParseJID(a.opts.OwnerJID)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("parse owner JID: %w", err)
		}
		return jid, nil
	}
	if a.client.Store.ID == nil {
		return types.EmptyJID, ErrNoOwner
	}
	return a.client.Store.ID.ToNonAD(), nil
}

// SendText sends a text message to the given JID. Returns the server message ID.
func (a *Adapter) SendText(ctx context.Context, jid types.JID, text string) (string, error) {
	resp, err := a.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return resp.ID, nil
}

// NotifyOwner sends a text message to the owner's own chat.
func (a *Adapter) NotifyOwner(ctx context.Context, text string) error {
	owner, err := a.OwnerJID()
	if err != nil {
		return err
	}
	_, err = a.SendText(ctx, owner, text)
	return err
}

// SendOwnerMedia uploads data and sends it to the owner as the same media kind.
func (a *Adapter) SendOwnerMedia(ctx context.Context, media content.Media, data []byte) error {
	owner, err := a.OwnerJID()
	if err != nil {
		return err
	}
	up, err := a.client.Upload(ctx, data, mediaType(media.Variant))
	if err != nil {
		return fmt.Errorf("upload media: %w", err)
	}
	msg, err := buildMediaMessage(media, up)
	if err != nil {
		return err
	}
	if _, err := a.client.SendMessage(ctx, owner, msg); err != nil {
		return fmt.Errorf("send media: %w", err)
	}
	return nil
}

// Download fetches the media referenced by msg.
func (a *Adapter) Download(ctx context.Context, msg *waE2E.Message) ([]byte, error) {
	data, err := a.client.DownloadAny(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return data, nil
}

// FollowChannel subscribes the account to a newsletter channel.
func (a *Adapter) FollowChannel(ctx context.Context, jid string) error {
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return fmt.Errorf("parse channel JID: %w", err)
	}
	return a.client.FollowNewsletter(ctx, parsed)
}

// PersistCredentials flushes the device identity to the credential store.
func (a *Adapter) PersistCredentials(ctx context.Context) error {
	return a.client.Store.Save(ctx)
}

// WipeCredentials removes the credential database so the next start pairs
// from scratch.
func (a *Adapter) WipeCredentials() error {
	var errs []error
	for _, p := range []string{a.dbPath, a.dbPath + "-wal", a.dbPath + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func mediaType(v content.Variant) whatsmeow.MediaType {
	switch v {
	case content.Video:
		return whatsmeow.MediaVideo
	case content.Audio:
		return whatsmeow.MediaAudio
	case content.Document:
		return whatsmeow.MediaDocument
	default:
		return whatsmeow.MediaImage
	}
}

func buildMediaMessage(media content.Media, up whatsmeow.UploadResponse) (*waE2E.Message, error) {
	var (
		caption  = optional(media.Caption)
		mimetype = optional(media.Mimetype)
		length   = proto.Uint64(up.FileLength)
	)
	switch media.Variant {
	case content.Image:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption: caption, Mimetype: mimetype,
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256,
			FileLength: length,
		}}, nil
	case content.Video:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption: caption, Mimetype: mimetype,
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256,
			FileLength: length,
		}}, nil
	case content.Audio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype: mimetype, PTT: proto.Bool(media.PTT),
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256,
			FileLength: length,
		}}, nil
	case content.Sticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			Mimetype: mimetype,
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256,
			FileLength: length,
		}}, nil
	case content.Document:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption: caption, Mimetype: mimetype,
			FileName: optional(media.FileName), Title: optional(media.FileName),
			URL: proto.String(up.URL), DirectPath: proto.String(up.DirectPath),
			MediaKey: up.MediaKey, FileEncSHA256: up.FileEncSHA256, FileSHA256: up.FileSHA256,
			FileLength: length,
		}}, nil
	}
	return nil, fmt.Errorf("unsupported media variant %q", media.Variant)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}
