package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Device is one row of the device registry.
type Device struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Platform    string    `json:"platform"`
	LastSeen    time.Time `json:"lastSeen"`
	SyncEnabled bool      `json:"syncEnabled"`
	PushToken   string    `json:"pushToken,omitempty"`
}

// EnsureLocalDevice returns this installation's device identity, creating
// it on first call. The generated id is persisted and never changes for
// the lifetime of the installation; subsequent calls refresh last_seen
// and the reported name/platform metadata.
//
// Example:
//
//	dev, err := st.EnsureLocalDevice(ctx, "kitchen-laptop", runtime.GOOS)
func (s *Store) EnsureLocalDevice(ctx context.Context, name, platform string) (*Device, error) {
	now := time.Now().UTC()

	var dev Device
	var lastSeen string
	var pushToken sql.NullString
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, name, platform, last_seen, sync_enabled, push_token
		FROM devices WHERE is_local = 1
	`).Scan(&dev.ID, &dev.Name, &dev.Platform, &lastSeen, &dev.SyncEnabled, &pushToken)

	switch {
	case err == sql.ErrNoRows:
		dev = Device{
			ID:          uuid.NewString(),
			Name:        name,
			Platform:    platform,
			LastSeen:    now,
			SyncEnabled: true,
		}
		_, err = s.conn.ExecContext(ctx, `
			INSERT INTO devices (id, name, platform, last_seen, sync_enabled, push_token, is_local)
			VALUES (?, ?, ?, ?, 1, NULL, 1)
		`, dev.ID, dev.Name, dev.Platform, now.Format(timeFormat))
		if err != nil {
			return nil, fmt.Errorf("failed to register local device: %w", err)
		}
		return &dev, nil

	case err != nil:
		return nil, fmt.Errorf("failed to load local device: %w", err)
	}

	dev.PushToken = pushToken.String
	dev.LastSeen = now
	if name != "" {
		dev.Name = name
	}
	if platform != "" {
		dev.Platform = platform
	}

	_, err = s.conn.ExecContext(ctx, `
		UPDATE devices SET name = ?, platform = ?, last_seen = ? WHERE id = ?
	`, dev.Name, dev.Platform, now.Format(timeFormat), dev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh local device: %w", err)
	}

	return &dev, nil
}

// UpsertDevice records or refreshes a device seen through sync or import.
// The local device row is managed by EnsureLocalDevice and never overwritten
// here.
func (s *Store) UpsertDevice(ctx context.Context, dev Device) error {
	if dev.ID == "" {
		return fmt.Errorf("device id is required")
	}

	query := `
	INSERT INTO devices (id, name, platform, last_seen, sync_enabled, push_token, is_local)
	VALUES (?, ?, ?, ?, ?, ?, 0)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		platform = excluded.platform,
		last_seen = excluded.last_seen,
		sync_enabled = excluded.sync_enabled,
		push_token = excluded.push_token
	WHERE devices.is_local = 0
	`

	_, err := s.conn.ExecContext(ctx, query,
		dev.ID,
		dev.Name,
		dev.Platform,
		dev.LastSeen.UTC().Format(timeFormat),
		dev.SyncEnabled,
		nullable(dev.PushToken),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", dev.ID, err)
	}

	return nil
}

// ListDevices returns all known devices, most recently seen first.
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, name, platform, last_seen, sync_enabled, push_token
		FROM devices
		ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var dev Device
		var lastSeen string
		var pushToken sql.NullString
		if err := rows.Scan(&dev.ID, &dev.Name, &dev.Platform, &lastSeen, &dev.SyncEnabled, &pushToken); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		parsed, err := time.Parse(timeFormat, lastSeen)
		if err != nil {
			return nil, fmt.Errorf("malformed device timestamp %q: %w", lastSeen, err)
		}
		dev.LastSeen = parsed
		dev.PushToken = pushToken.String
		devices = append(devices, dev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}

	return devices, nil
}
