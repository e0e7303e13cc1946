package store

import "time"

// Recovery is one journaled recovery attempt. It never holds message content.
type Recovery struct {
	ID          string
	ChatJID     string
	MsgID       string
	SenderJID   string
	RevokerJID  string
	Variant     string
	Outcome     string
	Detail      string
	RecoveredAt time.Time
}

// RecoveryStats counts journal rows by outcome.
type RecoveryStats struct {
	Total     int
	ByOutcome map[string]int
	Last      time.Time
}
