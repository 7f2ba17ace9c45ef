// Package store provides the durable SQLite-backed record store for carelog.
//
// The store owns the three persisted tables of the sync engine:
//   - records: typed records keyed by composite id, indexed by category
//     and timestamp
//   - sync_log: append-only ledger of local mutations awaiting sync
//   - devices: known devices, including this installation's identity
//
// The database runs in embedded mode with WAL for concurrent reads.
// The store is the only shared mutable resource of the engine; callers
// serialize writes through the cooperative execution model, so no locking
// happens here beyond SQLite's own.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// timeFormat is how timestamps are persisted. The fractional second is
// zero-padded to a fixed nine digits so that timestamps in the same zone
// sort lexicographically as TEXT, which ORDER BY timestamp and
// MAX(timestamp) rely on. RFC3339Nano would not do: it trims trailing
// zeros, so "...05.5Z" sorts after "...05.123Z".
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite database connection for records, sync log and
// device registry access.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it is created along with the schema.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	st, err := store.Open(filepath.Join(dir, "carelog.db"))
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set busy timeout to 5 seconds
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := st.initSchema(); err != nil {
		_ = st.Close()
		return nil, err
	}

	return st, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// initSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) initSchema() error {
	schema := `
	-- Synchronized records
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		payload TEXT NOT NULL,  -- JSON object
		timestamp TEXT NOT NULL,
		device_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		checksum TEXT NOT NULL
	);

	-- Append-only ledger of local mutations
	CREATE TABLE IF NOT EXISTS sync_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,          -- create, update, delete, sync
		data_id TEXT NOT NULL,
		category TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		device_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',  -- pending, synced, conflict, error
		error_message TEXT
	);

	-- Known devices, including this installation
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		platform TEXT NOT NULL,
		last_seen TEXT NOT NULL,
		sync_enabled INTEGER NOT NULL DEFAULT 1,
		push_token TEXT,
		is_local INTEGER NOT NULL DEFAULT 0
	);

	-- Indexes for category-scoped sync and timestamp scans
	CREATE INDEX IF NOT EXISTS idx_records_category ON records(category);
	CREATE INDEX IF NOT EXISTS idx_records_timestamp ON records(timestamp);
	CREATE INDEX IF NOT EXISTS idx_sync_log_status ON sync_log(status);
	CREATE INDEX IF NOT EXISTS idx_sync_log_data_id ON sync_log(data_id);
	`

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}
