package serverdb

import (
	"fmt"
	"time"
)

// RateLimitEvent represents a rate limit violation event.
type RateLimitEvent struct {
	ID            int64  `json:"id"`
	IP            string `json:"ip"`
	EndpointClass string `json:"endpoint_class"`
	CreatedAt     string `json:"created_at"`
}

// InsertRateLimitEvent inserts a rate limit violation event.
func (db *ServerDB) InsertRateLimitEvent(ip, endpointClass string) error {
	_, err := db.conn.Exec(
		`INSERT INTO rate_limit_events (ip, endpoint_class, created_at) VALUES (?, ?, ?)`,
		ip, endpointClass, db.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("insert rate limit event: %w", err)
	}
	return nil
}

// CountRateLimitEvents counts violations from ip since the given time. An
// empty ip counts all.
func (db *ServerDB) CountRateLimitEvents(ip string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM rate_limit_events WHERE created_at >= ?`
	args := []any{since.UTC().Format(timeFormat)}
	if ip != "" {
		query += " AND ip = ?"
		args = append(args, ip)
	}
	var n int
	if err := db.conn.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rate limit events: %w", err)
	}
	return n, nil
}

// CleanupRateLimitEvents deletes events older than the given duration.
// Returns the number of rows deleted.
func (db *ServerDB) CleanupRateLimitEvents(olderThan time.Duration) (int64, error) {
	cutoff := db.now().UTC().Add(-olderThan).Format(timeFormat)
	res, err := db.conn.Exec(
		`DELETE FROM rate_limit_events WHERE created_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup rate limit events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
