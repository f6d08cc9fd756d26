// Package serial implements the adapter contract for frame-protocol devices
// attached over a serial line.
package serial

import (
	"context"
	"fmt"
	"time"

	gserial "github.com/goburrow/serial"

	"station-bridge/internal/adapters/frameio"
	"station-bridge/pkg/adapter"
	"station-bridge/pkg/frameproto"
)

type Config struct {
	Name     string
	Port     string // e.g. /dev/ttyUSB0
	BaudRate int
	DataBits int
	StopBits int
	Parity   string // N, E, O
	Timeout  time.Duration
	Mappings []adapter.MetricMapping
}

type Adapter struct {
	name   string
	serial gserial.Config
	client *frameio.Client
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(cfg Config) (*Adapter, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("serial adapter %q: port is required", cfg.Name)
	}
	client, err := frameio.NewClient(cfg.Mappings, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("serial adapter %q: %w", cfg.Name, err)
	}

	sc := gserial.Config{
		Address:  cfg.Port,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	}
	if sc.BaudRate <= 0 {
		sc.BaudRate = 115200
	}
	if sc.DataBits <= 0 {
		sc.DataBits = 8
	}
	if sc.StopBits <= 0 {
		sc.StopBits = 1
	}
	if sc.Parity == "" {
		sc.Parity = "N"
	}
	if sc.Timeout <= 0 {
		sc.Timeout = 5 * time.Second
	}
	return &Adapter{name: cfg.Name, serial: sc, client: client}, nil
}

func (a *Adapter) Name() string { return a.name }

// Connect opens the port. The open itself is quick; the context gates entry
// so a canceled connect cycle does not grab the device node.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.client.IsConnected() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	port, err := gserial.Open(&a.serial)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.serial.Address, err)
	}
	a.client.SetConn(port)
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

// CRCErrors reports how many corrupted frames the line has produced.
func (a *Adapter) CRCErrors() uint64 { return a.client.CRCErrors() }
