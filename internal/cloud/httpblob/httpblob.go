// Package httpblob implements the cloud provider contract against an HTTP
// blob store exposing a single snapshot resource.
//
// Protocol: PUT {endpoint}/v1/snapshot uploads the snapshot JSON document,
// GET {endpoint}/v1/snapshot downloads it (404 means no snapshot yet).
// An optional bearer token is sent on every request. The provider owns the
// request timeout.
package httpblob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carelog/carelog/internal/cloud"
	"github.com/carelog/carelog/internal/record"
)

const (
	snapshotPath   = "/v1/snapshot"
	requestTimeout = 30 * time.Second
	userAgent      = "carelog/1.0"
)

// Provider talks to an HTTP blob store.
type Provider struct {
	client   *http.Client
	endpoint string
	token    string
}

// New creates an httpblob provider. The Endpoint setting is required.
func New(settings cloud.Settings) (cloud.Provider, error) {
	if settings.Endpoint == "" {
		return nil, fmt.Errorf("httpblob: %w (endpoint is required)", cloud.ErrNotConfigured)
	}

	return &Provider{
		client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
		endpoint: strings.TrimRight(settings.Endpoint, "/"),
		token:    settings.Token,
	}, nil
}

func init() {
	cloud.Register("httpblob", New)
}

// Name implements cloud.Provider.
func (p *Provider) Name() string {
	return "httpblob"
}

// Push implements cloud.Provider.
func (p *Provider) Push(ctx context.Context, deviceID string, ts time.Time, records []record.Record) error {
	snap := cloud.Snapshot{
		DeviceID:  deviceID,
		Timestamp: ts,
		Records:   records,
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return &record.SerializationError{Op: "push", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.endpoint+snapshotPath, bytes.NewReader(body))
	if err != nil {
		return &cloud.TransportError{Provider: "httpblob", Op: "push", Err: err}
	}
	p.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return &cloud.TransportError{Provider: "httpblob", Op: "push", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &cloud.TransportError{
			Provider: "httpblob",
			Op:       "push",
			Err:      fmt.Errorf("server returned status %d", resp.StatusCode),
		}
	}

	return nil
}

// Pull implements cloud.Provider. A 404 means no snapshot has been pushed
// yet and yields an empty snapshot; any other failure is an error.
func (p *Provider) Pull(ctx context.Context) (*cloud.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+snapshotPath, nil)
	if err != nil {
		return nil, &cloud.TransportError{Provider: "httpblob", Op: "pull", Err: err}
	}
	p.setHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &cloud.TransportError{Provider: "httpblob", Op: "pull", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &cloud.Snapshot{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &cloud.TransportError{
			Provider: "httpblob",
			Op:       "pull",
			Err:      fmt.Errorf("server returned status %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &cloud.TransportError{Provider: "httpblob", Op: "pull", Err: err}
	}

	var snap cloud.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &record.SerializationError{Op: "pull", Err: err}
	}

	return &snap, nil
}

func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
}
