package serverdb

import (
	"fmt"
	"strings"
	"time"
)

// SaveEvent is one attempt to write the configuration through the save
// endpoint.
type SaveEvent struct {
	ID        int64  `json:"id"`
	Outcome   string `json:"outcome"`
	Username  string `json:"username"`
	IP        string `json:"ip"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Digest    string `json:"digest,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Save event outcomes.
const (
	SaveOutcomeSaved        = "saved"
	SaveOutcomeBootstrap    = "bootstrap"
	SaveOutcomeUnauthorized = "unauthorized"
	SaveOutcomeBadRequest   = "bad_request"
	SaveOutcomeRateLimited  = "rate_limited"
	SaveOutcomeFailed       = "failed"
)

// InsertSaveEvent records a save attempt. CreatedAt is assigned here.
func (db *ServerDB) InsertSaveEvent(e SaveEvent) error {
	_, err := db.conn.Exec(
		`INSERT INTO save_events (outcome, username, ip, status, detail, digest, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Outcome, e.Username, e.IP, e.Status, e.Detail, e.Digest, db.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("insert save event: %w", err)
	}
	return nil
}

// ListSaveEvents returns the most recent save events first. An empty
// outcome matches all; limit <= 0 defaults to 50.
func (db *ServerDB) ListSaveEvents(outcome string, limit int) ([]SaveEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, outcome, username, ip, status, detail, digest, created_at FROM save_events`
	var conditions []string
	var args []any
	if outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, outcome)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list save events: %w", err)
	}
	defer rows.Close()

	var out []SaveEvent
	for rows.Next() {
		var e SaveEvent
		if err := rows.Scan(&e.ID, &e.Outcome, &e.Username, &e.IP, &e.Status, &e.Detail, &e.Digest, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan save event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate save events: %w", err)
	}
	return out, nil
}

// LastSave returns the most recent successful save, or nil.
func (db *ServerDB) LastSave() (*SaveEvent, error) {
	events, err := db.conn.Query(
		`SELECT id, outcome, username, ip, status, detail, digest, created_at FROM save_events
		 WHERE outcome IN (?, ?) ORDER BY id DESC LIMIT 1`,
		SaveOutcomeSaved, SaveOutcomeBootstrap,
	)
	if err != nil {
		return nil, fmt.Errorf("last save: %w", err)
	}
	defer events.Close()
	if !events.Next() {
		return nil, events.Err()
	}
	var e SaveEvent
	if err := events.Scan(&e.ID, &e.Outcome, &e.Username, &e.IP, &e.Status, &e.Detail, &e.Digest, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("scan save event: %w", err)
	}
	return &e, nil
}

// CleanupSaveEvents deletes save events older than the given duration.
// Returns the number of rows deleted.
func (db *ServerDB) CleanupSaveEvents(olderThan time.Duration) (int64, error) {
	cutoff := db.now().UTC().Add(-olderThan).Format(timeFormat)
	res, err := db.conn.Exec(`DELETE FROM save_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup save events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
