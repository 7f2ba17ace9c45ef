package daemon

import (
	"context"
	"net/http"
	"time"
)

// State is one connectivity observation.
type State struct {
	// Online reports whether the network is reachable.
	Online bool

	// Metered reports whether the connection is metered (cellular).
	// Scheduled passes are skipped on metered connections when the
	// wifi-only setting is on.
	Metered bool
}

// Prober checks connectivity. Implementations must be safe for repeated
// calls; a probe failure is an offline observation, not an error.
type Prober interface {
	Probe(ctx context.Context) State
}

// HTTPProber probes connectivity with a HEAD request against a fixed
// endpoint. It cannot detect metered connections; platform integrations
// that can should wrap it.
type HTTPProber struct {
	endpoint string
	client   *http.Client
}

// NewHTTPProber creates a prober against endpoint, typically the configured
// cloud endpoint so that "online" means "the backend is reachable".
func NewHTTPProber(endpoint string) *HTTPProber {
	return &HTTPProber{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Probe performs the HEAD request. Any response, including an error status,
// counts as online; only transport failure counts as offline.
func (p *HTTPProber) Probe(ctx context.Context) State {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.endpoint, nil)
	if err != nil {
		return State{}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return State{}
	}
	_ = resp.Body.Close()

	return State{Online: true}
}
