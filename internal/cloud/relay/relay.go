// Package relay implements the cloud provider contract over a websocket
// relay server.
//
// Each push or pull dials the relay, exchanges one JSON frame pair and
// closes the connection. Frames:
//
//	client -> server: {"op": "push", "snapshot": {...}}
//	client -> server: {"op": "pull"}
//	server -> client: {"ok": true, "snapshot": {...}}  (snapshot on pull)
//	server -> client: {"ok": false, "error": "..."}
//
// The relay is stateless from the client's perspective; it simply stores
// the last pushed snapshot per account, keyed by the bearer token.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/carelog/carelog/internal/cloud"
	"github.com/carelog/carelog/internal/record"
)

const callTimeout = 30 * time.Second

// Provider exchanges snapshots with a websocket relay server.
type Provider struct {
	endpoint string
	token    string
}

// New creates a relay provider. The Endpoint setting (ws:// or wss://)
// is required.
func New(settings cloud.Settings) (cloud.Provider, error) {
	if settings.Endpoint == "" {
		return nil, fmt.Errorf("relay: %w (endpoint is required)", cloud.ErrNotConfigured)
	}
	return &Provider{endpoint: settings.Endpoint, token: settings.Token}, nil
}

func init() {
	cloud.Register("relay", New)
}

// frame is the wire format exchanged with the relay.
type frame struct {
	Op       string          `json:"op,omitempty"`
	OK       bool            `json:"ok,omitempty"`
	Error    string          `json:"error,omitempty"`
	Snapshot *cloud.Snapshot `json:"snapshot,omitempty"`
}

// Name implements cloud.Provider.
func (p *Provider) Name() string {
	return "relay"
}

// Push implements cloud.Provider.
func (p *Provider) Push(ctx context.Context, deviceID string, ts time.Time, records []record.Record) error {
	snap := &cloud.Snapshot{
		DeviceID:  deviceID,
		Timestamp: ts,
		Records:   records,
	}

	resp, err := p.call(ctx, frame{Op: "push", Snapshot: snap})
	if err != nil {
		return &cloud.TransportError{Provider: "relay", Op: "push", Err: err}
	}
	if !resp.OK {
		return &cloud.TransportError{Provider: "relay", Op: "push", Err: fmt.Errorf("relay rejected push: %s", resp.Error)}
	}
	return nil
}

// Pull implements cloud.Provider. A relay with nothing stored answers
// ok with a nil snapshot, which yields an empty snapshot here.
func (p *Provider) Pull(ctx context.Context) (*cloud.Snapshot, error) {
	resp, err := p.call(ctx, frame{Op: "pull"})
	if err != nil {
		return nil, &cloud.TransportError{Provider: "relay", Op: "pull", Err: err}
	}
	if !resp.OK {
		return nil, &cloud.TransportError{Provider: "relay", Op: "pull", Err: fmt.Errorf("relay rejected pull: %s", resp.Error)}
	}
	if resp.Snapshot == nil {
		return &cloud.Snapshot{}, nil
	}
	return resp.Snapshot, nil
}

// call dials the relay, sends one frame and reads one response frame.
func (p *Provider) call(ctx context.Context, req frame) (*frame, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	opts := &websocket.DialOptions{}
	if p.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + p.token}}
	}

	conn, _, err := websocket.Dial(ctx, p.endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", p.endpoint, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := wsjson.Write(ctx, conn, req); err != nil {
		return nil, fmt.Errorf("write %s frame: %w", req.Op, err)
	}

	var resp frame
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Op, err)
	}

	return &resp, nil
}
