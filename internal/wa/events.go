package wa

import (
	"github.com/matheus3301/wppguard/internal/content"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// Status codes for disconnects that whatsmeow reports as distinct events
// rather than as a ConnectFailure reason.
const (
	CodeStreamReplaced = 440
	CodeTempBanned     = int(events.ConnectFailureTempBanned)
	CodeClientOutdated = int(events.ConnectFailureClientOutdated)
	CodeLoggedOut      = int(events.ConnectFailureLoggedOut)
)

// Event is a gateway-level event translated from a whatsmeow callback.
type Event interface {
	isEvent()
}

// ConnState distinguishes connection events.
type ConnState int

const (
	ConnOpen ConnState = iota
	ConnClosed
)

// String returns a readable name for logs.
func (s ConnState) String() string {
	if s == ConnOpen {
		return "open"
	}
	return "closed"
}

// ConnectionEvent reports a socket lifecycle change. Code is zero when the
// network gave no reason.
type ConnectionEvent struct {
	State ConnState
	Code  int
}

// MessagesEvent carries newly received messages.
type MessagesEvent struct {
	Messages []*events.Message
}

// RevokeEvent reports that a message's content was deleted for everyone.
type RevokeEvent struct {
	Chat    string
	ID      string
	Revoker string
	FromMe  bool
	Event   *events.Message
}

// PairingEvent carries a QR or phone pairing code.
type PairingEvent struct {
	Code  string
	Phone bool
}

// CredentialsEvent signals that the device credentials changed.
type CredentialsEvent struct {
	JID string
}

func (ConnectionEvent) isEvent()  {}
func (MessagesEvent) isEvent()    {}
func (RevokeEvent) isEvent()      {}
func (PairingEvent) isEvent()     {}
func (CredentialsEvent) isEvent() {}

// Translate maps a raw whatsmeow event to a gateway event. ok is false for
// events the gateway does not consume.
func Translate(rawEvt any) (evt Event, ok bool) {
	switch e := rawEvt.(type) {
	case *events.Connected:
		return ConnectionEvent{State: ConnOpen}, true
	case *events.Disconnected:
		return ConnectionEvent{State: ConnClosed}, true
	case *events.LoggedOut:
		code := int(e.Reason)
		if !e.Reason.IsLoggedOut() {
			code = CodeLoggedOut
		}
		return ConnectionEvent{State: ConnClosed, Code: code}, true
	case *events.ConnectFailure:
		return ConnectionEvent{State: ConnClosed, Code: int(e.Reason)}, true
	case *events.StreamReplaced:
		return ConnectionEvent{State: ConnClosed, Code: CodeStreamReplaced}, true
	case *events.TemporaryBan:
		return ConnectionEvent{State: ConnClosed, Code: CodeTempBanned}, true
	case *events.ClientOutdated:
		return ConnectionEvent{State: ConnClosed, Code: CodeClientOutdated}, true
	case *events.PairSuccess:
		return CredentialsEvent{JID: e.ID.String()}, true
	case *events.Message:
		if rev, isRevoke := revocation(e); isRevoke {
			return rev, true
		}
		return MessagesEvent{Messages: []*events.Message{e}}, true
	}
	return nil, false
}

func revocation(e *events.Message) (RevokeEvent, bool) {
	pm := content.Unwrap(e.Message).GetProtocolMessage()
	if pm == nil || pm.GetType() != waE2E.ProtocolMessage_REVOKE {
		return RevokeEvent{}, false
	}
	return RevokeEvent{
		Chat:    e.Info.Chat.ToNonAD().String(),
		ID:      pm.GetKey().GetID(),
		Revoker: e.Info.Sender.ToNonAD().String(),
		FromMe:  e.Info.IsFromMe,
		Event:   e,
	}, true
}
