// Package cloud defines the provider contract for the remote snapshot store
// used as the synchronization transport.
//
// The sync engine treats all providers uniformly: it pushes the local device's
// record snapshot and pulls the latest remote snapshot. Provider-specific
// protocol details (blob naming, request shape, authentication headers) are
// entirely encapsulated behind the Provider interface. Timeout policy for a
// single push or pull call is owned by each provider implementation; the
// engine imposes no additional deadline.
//
// Implementations register themselves by name with Register from init() and
// are selected through configuration.
package cloud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/carelog/carelog/internal/record"
)

// Snapshot is the remote snapshot document exchanged with a provider.
type Snapshot struct {
	// DeviceID is the device that pushed the snapshot.
	DeviceID string `json:"deviceId"`

	// Timestamp is when the snapshot was pushed.
	Timestamp time.Time `json:"timestamp"`

	// Records is the full set of records in the snapshot.
	Records []record.Record `json:"records"`
}

// Provider is the cloud backend adapter, implemented once per provider.
type Provider interface {
	// Name returns the registered provider name.
	Name() string

	// Push uploads a snapshot of records for the given device.
	Push(ctx context.Context, deviceID string, ts time.Time, records []record.Record) error

	// Pull downloads the latest remote snapshot. A configured backend with
	// no snapshot yet returns an empty snapshot; a backend that cannot be
	// reached or authenticated returns an error, never an empty success,
	// so a later overwrite push cannot silently wipe remote state.
	Pull(ctx context.Context) (*Snapshot, error)
}

// Settings holds provider connection settings from the configuration.
// Which fields a provider requires is documented per implementation.
type Settings struct {
	// Endpoint is the base URL (http/https for httpblob, ws/wss for relay).
	Endpoint string

	// Token is an optional bearer token.
	Token string

	// Dir is the snapshot directory for fileblob.
	Dir string
}

// ErrNotConfigured reports that no provider (or an incomplete provider) is
// configured. Sync operations treat this as "sync disabled".
var ErrNotConfigured = errors.New("cloud provider not configured")

// TransportError wraps a push or pull failure that is expected to be
// transient: network unreachable, timeouts, server errors. The engine leaves
// affected sync log entries pending and retries on the next cycle.
type TransportError struct {
	Provider string
	Op       string // "push" or "pull"
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
