package gateway

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppguard/internal/bus"
	"github.com/matheus3301/wppguard/internal/cache"
	"github.com/matheus3301/wppguard/internal/conn"
	"github.com/matheus3301/wppguard/internal/content"
	"github.com/matheus3301/wppguard/internal/dispatch"
	"github.com/matheus3301/wppguard/internal/proc"
	"github.com/matheus3301/wppguard/internal/recovery"
	"github.com/matheus3301/wppguard/internal/status"
	"github.com/matheus3301/wppguard/internal/wa"
	"github.com/matheus3301/wppguard/internal/watchdog"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

type fakeClient struct {
	events chan wa.Event

	mu       sync.Mutex
	connects int
	notices  []string
	wiped    int
	persists int
	closed   bool
	panicOn  string
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan wa.Event, 16)}
}

func (f *fakeClient) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeClient) Disconnect() {}

func (f *fakeClient) NotifyOwner(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, text)
	return nil
}

func (f *fakeClient) SendOwnerMedia(context.Context, content.Media, []byte) error { return nil }

func (f *fakeClient) Download(context.Context, *waE2E.Message) ([]byte, error) { return nil, nil }

func (f *fakeClient) FollowChannel(context.Context, string) error { return nil }

func (f *fakeClient) WipeCredentials() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wiped++
	return nil
}

func (f *fakeClient) Events() <-chan wa.Event { return f.events }

func (f *fakeClient) PreparePairing(context.Context) error { return nil }

func (f *fakeClient) PersistCredentials(context.Context) error {
	f.mu.Lock()
	f.persists++
	boom := f.panicOn == "persist"
	f.mu.Unlock()
	if boom {
		panic("store exploded")
	}
	return nil
}

func (f *fakeClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeClient) noticeList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notices...)
}

type fakeExit struct {
	mu    sync.Mutex
	codes []int
}

func (f *fakeExit) Exit(code int, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
}

func (f *fakeExit) get() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.codes...)
}

type harness struct {
	session *Session
	client  *fakeClient
	exit    *fakeExit
	bus     *bus.Bus
	handled chan *events.Message
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		client:  newFakeClient(),
		exit:    &fakeExit{},
		bus:     bus.New(),
		handled: make(chan *events.Message, 16),
	}
	handler := dispatch.HandlerFunc(func(_ context.Context, msg *events.Message) error {
		h.handled <- msg
		return nil
	})
	cfg := Config{
		Conn:     conn.DefaultConfig(),
		Recovery: recovery.Options{Interval: time.Millisecond},
		Watchdog: watchdog.Config{Interval: time.Hour},
		Sampler:  func() (float64, error) { return 1, nil },
	}
	h.session = New(cfg, h.client, cache.New(100), handler, h.exit, h.bus, zap.NewNop())
	h.session.qrOut = &bytes.Buffer{}

	if err := h.session.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.session.Stop)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var chat = types.JID{User: "558592403672", Server: types.DefaultUserServer}

func textMessage(id, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			ID:        id,
			Timestamp: time.Now(),
			PushName:  "Ana",
			MessageSource: types.MessageSource{
				Chat:   chat,
				Sender: chat,
			},
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestOpenRoutesToManager(t *testing.T) {
	h := newHarness(t)

	h.client.events <- wa.ConnectionEvent{State: wa.ConnOpen}
	waitFor(t, "OPEN", func() bool { return h.session.Machine().Current() == status.Open })
	waitFor(t, "connected notice", func() bool { return len(h.client.noticeList()) == 1 })
}

func TestMessageThenRevokeRecoversText(t *testing.T) {
	h := newHarness(t)
	ch, unsub := h.bus.Subscribe("recovery.", 4)
	defer unsub()

	h.client.events <- wa.MessagesEvent{Messages: []*events.Message{textMessage("m1", "hello")}}

	select {
	case msg := <-h.handled:
		if msg.Info.ID != "m1" {
			t.Errorf("handled %q, want m1", msg.Info.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for handler")
	}
	if h.session.Cache().Len() != 1 {
		t.Fatalf("cache len = %d, want 1", h.session.Cache().Len())
	}

	h.client.events <- wa.RevokeEvent{Chat: chat.String(), ID: "m1", Revoker: chat.String()}

	select {
	case evt := <-ch:
		res := evt.Payload.(recovery.Result)
		if res.Outcome != recovery.OutcomeText {
			t.Errorf("outcome = %s, want text", res.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for recovery")
	}

	notices := h.client.noticeList()
	if len(notices) != 1 || !strings.HasSuffix(notices[0], "hello") {
		t.Errorf("notices = %q", notices)
	}
}

func TestFatalCloseWipesAndExits(t *testing.T) {
	h := newHarness(t)

	h.client.events <- wa.ConnectionEvent{State: wa.ConnClosed, Code: 401}

	waitFor(t, "exit", func() bool { return len(h.exit.get()) == 1 })
	if got := h.exit.get()[0]; got != proc.ExitFatalSession {
		t.Errorf("exit code = %d, want %d", got, proc.ExitFatalSession)
	}
	if h.session.Machine().Current() != status.FatalSession {
		t.Errorf("state = %s, want FATAL_SESSION", h.session.Machine().Current())
	}
	h.client.mu.Lock()
	wiped := h.client.wiped
	h.client.mu.Unlock()
	if wiped != 1 {
		t.Errorf("wiped = %d, want 1", wiped)
	}
}

func TestPairingRendersQR(t *testing.T) {
	h := newHarness(t)
	out := h.session.qrOut.(*bytes.Buffer)
	ch, unsub := h.bus.Subscribe("conn.pairing", 1)
	defer unsub()

	h.client.events <- wa.PairingEvent{Code: "2@abc,def,ghi"}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for pairing event")
	}
	// The QR is written right after the bus event on the same goroutine.
	h.client.events <- wa.CredentialsEvent{JID: chat.String()}
	waitFor(t, "credentials persisted", func() bool {
		h.client.mu.Lock()
		defer h.client.mu.Unlock()
		return h.client.persists == 1
	})
	if out.Len() == 0 {
		t.Error("QR code not rendered")
	}
}

func TestPanickingHandlerDoesNotStopLoop(t *testing.T) {
	h := newHarness(t)
	h.client.mu.Lock()
	h.client.panicOn = "persist"
	h.client.mu.Unlock()

	h.client.events <- wa.CredentialsEvent{JID: chat.String()}
	h.client.events <- wa.ConnectionEvent{State: wa.ConnOpen}

	waitFor(t, "OPEN after panic", func() bool { return h.session.Machine().Current() == status.Open })
}

func TestStopClosesClient(t *testing.T) {
	h := newHarness(t)
	h.session.Stop()

	h.client.mu.Lock()
	defer h.client.mu.Unlock()
	if !h.client.closed {
		t.Error("client not closed on Stop")
	}
}
