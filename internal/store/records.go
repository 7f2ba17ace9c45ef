package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carelog/carelog/internal/record"
)

// Put inserts or overwrites a record unconditionally.
//
// Conflict resolution and version/checksum computation are the caller's
// responsibility; the store persists exactly what it is given. The write
// is a single transactional upsert, so either it fully succeeds or the
// prior value remains.
func (s *Store) Put(ctx context.Context, rec record.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return &record.SerializationError{Op: "put", Err: err}
	}

	query := `
	INSERT INTO records (id, category, payload, timestamp, device_id, version, checksum)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		category = excluded.category,
		payload = excluded.payload,
		timestamp = excluded.timestamp,
		device_id = excluded.device_id,
		version = excluded.version,
		checksum = excluded.checksum
	`

	_, err = s.conn.ExecContext(ctx, query,
		rec.ID,
		rec.Category,
		string(payloadJSON),
		rec.Timestamp.UTC().Format(timeFormat),
		rec.DeviceID,
		rec.Version,
		rec.Checksum,
	)
	if err != nil {
		return fmt.Errorf("failed to put record %s: %w", rec.ID, err)
	}

	return nil
}

// Get retrieves a record by its composite id.
// Returns (nil, nil) if the record does not exist.
func (s *Store) Get(ctx context.Context, id string) (*record.Record, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, category, payload, timestamp, device_id, version, checksum
		FROM records
		WHERE id = ?
	`, id)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

// AllByCategory returns all records in a category, oldest first.
func (s *Store) AllByCategory(ctx context.Context, category string) ([]record.Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, category, payload, timestamp, device_id, version, checksum
		FROM records
		WHERE category = ?
		ORDER BY timestamp
	`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to query category %s: %w", category, err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// All returns every record in the store, used for full export and
// snapshot pushes. Ordered by id for deterministic output.
func (s *Store) All(ctx context.Context) ([]record.Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, category, payload, timestamp, device_id, version, checksum
		FROM records
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate records: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// Delete removes a record by id. Deleting a missing record is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	return nil
}

// DeleteAll wipes every record. The sync log and device registry are
// left intact.
func (s *Store) DeleteAll(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM records"); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return nil
}

// CurrentVersion returns the stored version for an id, or 0 if the id
// is unknown. Feed the result to record.NextVersion for local writes.
func (s *Store) CurrentVersion(ctx context.Context, id string) (int64, error) {
	var version int64
	err := s.conn.QueryRowContext(ctx, "SELECT version FROM records WHERE id = ?", id).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version for %s: %w", id, err)
	}
	return version, nil
}

// Count returns the number of records in the store.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanRecord.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*record.Record, error) {
	var rec record.Record
	var payloadJSON, ts string

	if err := sc.Scan(&rec.ID, &rec.Category, &payloadJSON, &ts, &rec.DeviceID, &rec.Version, &rec.Checksum); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return nil, &record.SerializationError{Op: "scan", Err: err}
	}

	parsed, err := time.Parse(timeFormat, ts)
	if err != nil {
		return nil, fmt.Errorf("malformed timestamp %q: %w", ts, err)
	}
	rec.Timestamp = parsed

	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]record.Record, error) {
	var records []record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}
