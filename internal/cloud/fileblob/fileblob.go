// Package fileblob implements the cloud provider contract on top of a plain
// directory, typically a network mount shared between devices. It is also
// the provider used by tests.
//
// The snapshot lives in a single snapshot.json file. Writes go through a
// temp file and rename so a crashed push never leaves a torn snapshot.
package fileblob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/carelog/carelog/internal/cloud"
	"github.com/carelog/carelog/internal/record"
)

const snapshotFile = "snapshot.json"

// Provider stores snapshots in a directory.
type Provider struct {
	dir string
}

// New creates a fileblob provider. The Dir setting is required; the
// directory is created on first push if missing.
func New(settings cloud.Settings) (cloud.Provider, error) {
	if settings.Dir == "" {
		return nil, fmt.Errorf("fileblob: %w (dir is required)", cloud.ErrNotConfigured)
	}
	return &Provider{dir: settings.Dir}, nil
}

func init() {
	cloud.Register("fileblob", New)
}

// Name implements cloud.Provider.
func (p *Provider) Name() string {
	return "fileblob"
}

// Push implements cloud.Provider. The snapshot is written atomically.
func (p *Provider) Push(ctx context.Context, deviceID string, ts time.Time, records []record.Record) error {
	if err := ctx.Err(); err != nil {
		return &cloud.TransportError{Provider: "fileblob", Op: "push", Err: err}
	}

	snap := cloud.Snapshot{
		DeviceID:  deviceID,
		Timestamp: ts,
		Records:   records,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return &record.SerializationError{Op: "push", Err: err}
	}

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return &cloud.TransportError{Provider: "fileblob", Op: "push", Err: err}
	}

	tmp, err := os.CreateTemp(p.dir, snapshotFile+".tmp*")
	if err != nil {
		return &cloud.TransportError{Provider: "fileblob", Op: "push", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &cloud.TransportError{Provider: "fileblob", Op: "push", Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &cloud.TransportError{Provider: "fileblob", Op: "push", Err: err}
	}

	if err := os.Rename(tmpName, filepath.Join(p.dir, snapshotFile)); err != nil {
		_ = os.Remove(tmpName)
		return &cloud.TransportError{Provider: "fileblob", Op: "push", Err: err}
	}

	return nil
}

// Pull implements cloud.Provider. A directory with no snapshot yet yields
// an empty snapshot; an unreadable or malformed snapshot is an error.
func (p *Provider) Pull(ctx context.Context) (*cloud.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, &cloud.TransportError{Provider: "fileblob", Op: "pull", Err: err}
	}

	data, err := os.ReadFile(filepath.Join(p.dir, snapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return &cloud.Snapshot{}, nil
	}
	if err != nil {
		return nil, &cloud.TransportError{Provider: "fileblob", Op: "pull", Err: err}
	}

	var snap cloud.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &record.SerializationError{Op: "pull", Err: err}
	}

	return &snap, nil
}
