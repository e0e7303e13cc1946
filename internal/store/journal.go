package store

import (
	"database/sql"
	"fmt"
	"time"
)

// RecordRecovery inserts a journal row. A repeated ID is ignored.
func (db *DB) RecordRecovery(r Recovery) error {
	if r.RecoveredAt.IsZero() {
		r.RecoveredAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO recoveries (id, chat_jid, msg_id, sender_jid, revoker_jid, variant, outcome, detail, recovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		r.ID, r.ChatJID, r.MsgID, r.SenderJID, r.RevokerJID, r.Variant, r.Outcome, r.Detail,
		r.RecoveredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record recovery: %w", err)
	}
	return nil
}

// ListRecoveries returns the most recent journal rows, newest first.
func (db *DB) ListRecoveries(limit int) ([]Recovery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, chat_jid, msg_id, sender_jid, revoker_jid, variant, outcome, detail, recovered_at
		FROM recoveries ORDER BY recovered_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Recovery
	for rows.Next() {
		var (
			r  Recovery
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.ChatJID, &r.MsgID, &r.SenderJID, &r.RevokerJID, &r.Variant, &r.Outcome, &r.Detail, &ts); err != nil {
			return nil, err
		}
		r.RecoveredAt = time.UnixMilli(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats aggregates the journal by outcome.
func (db *DB) Stats() (*RecoveryStats, error) {
	rows, err := db.Query(`SELECT outcome, COUNT(*) FROM recoveries GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	stats := &RecoveryStats{ByOutcome: make(map[string]int)}
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		stats.ByOutcome[outcome] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var last sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(recovered_at) FROM recoveries`).Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		stats.Last = time.UnixMilli(last.Int64)
	}
	return stats, nil
}

// PruneRecoveries deletes rows older than the cutoff and returns how many
// were removed.
func (db *DB) PruneRecoveries(before time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM recoveries WHERE recovered_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune recoveries: %w", err)
	}
	return res.RowsAffected()
}
