package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Action is the kind of local mutation a sync log entry records.
type Action string

const (
	// ActionCreate records the first local write to an id.
	ActionCreate Action = "create"
	// ActionUpdate records a subsequent local write to an id.
	ActionUpdate Action = "update"
	// ActionDelete records a local deletion.
	ActionDelete Action = "delete"
	// ActionSync records an entry produced by a sync pass itself,
	// such as a deferred manual conflict.
	ActionSync Action = "sync"
)

// Status is the lifecycle state of a sync log entry.
//
// pending is the only non-terminal state: entries move to synced on
// successful push, to conflict when manual-strategy divergence defers
// resolution, or to error on permanent failure. Terminal entries are
// never reopened; a new mutation creates a new entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusSynced   Status = "synced"
	StatusConflict Status = "conflict"
	StatusError    Status = "error"
)

// Terminal reports whether a status can no longer change.
func (st Status) Terminal() bool {
	return st == StatusSynced || st == StatusConflict || st == StatusError
}

// LogEntry is one row of the append-only sync log.
type LogEntry struct {
	ID           int64     `json:"id"`
	Action       Action    `json:"action"`
	DataID       string    `json:"dataId"`
	Category     string    `json:"category"`
	Timestamp    time.Time `json:"timestamp"`
	DeviceID     string    `json:"deviceId"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// AppendLog appends a pending entry for a local mutation.
// The log is strictly append-only for creation; only status and
// error_message are ever mutated afterwards.
func (s *Store) AppendLog(ctx context.Context, action Action, dataID, category, deviceID string) (*LogEntry, error) {
	return s.appendLog(ctx, action, dataID, category, deviceID, StatusPending, "")
}

// AppendConflictLog appends an entry already in conflict status, recording
// a manual-strategy divergence deferred to the caller.
func (s *Store) AppendConflictLog(ctx context.Context, dataID, category, deviceID, message string) (*LogEntry, error) {
	return s.appendLog(ctx, ActionSync, dataID, category, deviceID, StatusConflict, message)
}

func (s *Store) appendLog(ctx context.Context, action Action, dataID, category, deviceID string, status Status, message string) (*LogEntry, error) {
	entry := &LogEntry{
		Action:       action,
		DataID:       dataID,
		Category:     category,
		Timestamp:    time.Now().UTC(),
		DeviceID:     deviceID,
		Status:       status,
		ErrorMessage: message,
	}

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_log (action, data_id, category, timestamp, device_id, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(action), dataID, category, entry.Timestamp.Format(timeFormat), deviceID, string(status), nullable(message))
	if err != nil {
		return nil, fmt.Errorf("failed to append sync log entry: %w", err)
	}

	entry.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read sync log entry id: %w", err)
	}

	return entry, nil
}

// PendingEntries returns all pending entries in append order.
func (s *Store) PendingEntries(ctx context.Context) ([]LogEntry, error) {
	return s.logEntries(ctx, "WHERE status = 'pending'")
}

// LogEntries returns the full sync log in append order, newest last.
func (s *Store) LogEntries(ctx context.Context) ([]LogEntry, error) {
	return s.logEntries(ctx, "")
}

func (s *Store) logEntries(ctx context.Context, where string) ([]LogEntry, error) {
	query := `
		SELECT id, action, data_id, category, timestamp, device_id, status, error_message
		FROM sync_log ` + where + `
		ORDER BY id`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var ts string
		var errMsg sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.DataID, &e.Category, &ts, &e.DeviceID, &e.Status, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		parsed, err := time.Parse(timeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("malformed sync log timestamp %q: %w", ts, err)
		}
		e.Timestamp = parsed
		e.ErrorMessage = errMsg.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync log: %w", err)
	}

	return entries, nil
}

// HasConflictEntry reports whether a conflict entry with the same message
// is already logged for a record. Pull passes use this so one unresolved
// divergence yields one entry, not one per cycle.
func (s *Store) HasConflictEntry(ctx context.Context, dataID, message string) (bool, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sync_log
		WHERE data_id = ? AND status = 'conflict' AND error_message = ?
	`, dataID, message).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check conflict entries for %s: %w", dataID, err)
	}
	return n > 0, nil
}

// MarkSynced transitions the given pending entries to synced.
// Entries already in a terminal state are left unchanged (idempotent).
func (s *Store) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf(
		"UPDATE sync_log SET status = 'synced' WHERE id IN (%s) AND status = 'pending'",
		placeholders,
	)
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark entries synced: %w", err)
	}

	return nil
}

// MarkError transitions a pending entry to error with a message.
// Terminal entries are left unchanged.
func (s *Store) MarkError(ctx context.Context, id int64, message string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE sync_log SET status = 'error', error_message = ?
		WHERE id = ? AND status = 'pending'
	`, message, id)
	if err != nil {
		return fmt.Errorf("failed to mark entry %d as error: %w", id, err)
	}
	return nil
}

// LastSyncedAt returns the timestamp of the most recently synced entry,
// or the zero time when nothing has synced yet.
func (s *Store) LastSyncedAt(ctx context.Context) (time.Time, error) {
	var ts sql.NullString
	err := s.conn.QueryRowContext(ctx,
		"SELECT MAX(timestamp) FROM sync_log WHERE status = 'synced'",
	).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last sync time: %w", err)
	}
	if !ts.Valid || ts.String == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(timeFormat, ts.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed sync log timestamp %q: %w", ts.String, err)
	}
	return parsed, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
