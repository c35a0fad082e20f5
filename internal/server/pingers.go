package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// OllamaPinger probes an Ollama daemon with GET /api/tags, which lists local
// models without loading one and costs no tokens.
// It satisfies the Pinger interface and is used by GET /api/ready.
type OllamaPinger struct {
	// host is the Ollama base URL.
	host string
	// client performs the probe request.
	client *http.Client
}

// NewOllamaPinger constructs an OllamaPinger for host. A nil client uses
// http.DefaultClient; the probe deadline comes from the request context.
func NewOllamaPinger(host string, client *http.Client) *OllamaPinger {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaPinger{host: strings.TrimRight(host, "/"), client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *OllamaPinger) Name() string { return "ollama" }

// Ping lists the daemon's models and expects 200 OK.
func (p *OllamaPinger) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.host+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// QdrantPinger probes a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// client is the Qdrant gRPC client to probe.
	client *qdrant.Client
}

// NewQdrantPinger constructs a QdrantPinger for the given Qdrant client.
func NewQdrantPinger(client *qdrant.Client) *QdrantPinger {
	return &QdrantPinger{client: client}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	_, err := p.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// FuncPinger adapts a ping function, such as (*store.SQLiteStore).Ping, to
// the Pinger interface.
type FuncPinger struct {
	// name is the dependency label.
	name string
	// fn performs the probe.
	fn func(ctx context.Context) error
}

// NewFuncPinger constructs a FuncPinger labelled name.
func NewFuncPinger(name string, fn func(ctx context.Context) error) *FuncPinger {
	return &FuncPinger{name: name, fn: fn}
}

// Name returns the dependency label used in readiness responses.
func (p *FuncPinger) Name() string { return p.name }

// Ping runs the wrapped function.
func (p *FuncPinger) Ping(ctx context.Context) error { return p.fn(ctx) }
