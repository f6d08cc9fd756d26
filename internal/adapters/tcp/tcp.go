// Package tcp implements the adapter contract for frame-protocol devices
// reachable over a TCP socket.
package tcp

import (
	"context"
	"fmt"
	"net"
	"time"

	"station-bridge/internal/adapters/frameio"
	"station-bridge/pkg/adapter"
	"station-bridge/pkg/frameproto"
)

type Config struct {
	Name     string
	Address  string // host:port
	Timeout  time.Duration
	Mappings []adapter.MetricMapping
}

type Adapter struct {
	name    string
	address string
	timeout time.Duration
	client  *frameio.Client
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(cfg Config) (*Adapter, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("tcp adapter %q: address is required", cfg.Name)
	}
	client, err := frameio.NewClient(cfg.Mappings, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("tcp adapter %q: %w", cfg.Name, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Adapter{name: cfg.Name, address: cfg.Address, timeout: timeout, client: client}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Connect(ctx context.Context) error {
	if a.client.IsConnected() {
		return nil
	}
	dialer := net.Dialer{Timeout: a.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", a.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.address, err)
	}
	a.client.SetConn(conn)
	return nil
}

func (a *Adapter) Close() error { return a.client.Close() }

func (a *Adapter) IsConnected() bool { return a.client.IsConnected() }

func (a *Adapter) CollectMetrics(ctx context.Context) ([]adapter.Metric, error) {
	return a.client.CollectMetrics(ctx)
}

func (a *Adapter) CollectMetric(ctx context.Context, t adapter.MetricType) (*adapter.Metric, error) {
	return a.client.CollectMetric(ctx, t)
}

// Exchange exposes raw frame round-trips for the command dispatch path.
func (a *Adapter) Exchange(ctx context.Context, req frameproto.Message) (frameproto.Message, error) {
	return a.client.Exchange(ctx, req)
}

// CRCErrors reports how many corrupted frames the link has produced.
func (a *Adapter) CRCErrors() uint64 { return a.client.CRCErrors() }
