package bus

import "time"

// Event kinds published inside the gateway. Subscribers filter by prefix,
// e.g. "recovery." receives every recovery outcome.
const (
	KindStateChanged     = "conn.state_changed"
	KindConnected        = "conn.connected"
	KindPairing          = "conn.pairing"
	KindMessageQueued    = "ingress.queued"
	KindMessageHandled   = "ingress.handled"
	KindStatusReceived   = "status.received"
	KindRecoveryComplete = "recovery.completed"
	KindCacheTrimmed     = "memory.trimmed"
)

// Event represents a gateway event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
