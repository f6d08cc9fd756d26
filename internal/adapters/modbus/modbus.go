// Package modbus implements the adapter contract for Modbus-TCP devices.
// Each mapping names a register reference ("holding:100" or "input:42");
// registers are read as single big-endian u16 words and pushed through the
// scale/offset transform.
package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mb "github.com/goburrow/modbus"

	"station-bridge/pkg/adapter"
)

type Config struct {
	Name     string
	Address  string // host:port
	SlaveID  uint8
	Timeout  time.Duration
	Mappings []adapter.MetricMapping
}

type register struct {
	kind    string // holding | input
	address uint16
	mapping adapter.MetricMapping
}

type Adapter struct {
	name      string
	registers []register
	byType    map[adapter.MetricType]register

	mu      sync.Mutex
	handler *mb.TCPClientHandler
	client  mb.Client

	// connected lives outside mu: a register sweep holds the lock for its
	// whole duration and IsConnected must not wait behind it.
	connected atomic.Bool
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(cfg Config) (*Adapter, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("modbus adapter %q: address is required", cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	handler := mb.NewTCPClientHandler(cfg.Address)
	handler.Timeout = timeout
	handler.SlaveId = cfg.SlaveID

	a := &Adapter{
		name:    cfg.Name,
		handler: handler,
		byType:  make(map[adapter.MetricType]register, len(cfg.Mappings)),
	}
	for _, m := range cfg.Mappings {
		reg, err := parseRegisterRef(m)
		if err != nil {
			return nil, fmt.Errorf("modbus adapter %q: %w", cfg.Name, err)
		}
		a.registers = append(a.registers, reg)
		a.byType[m.Type] = reg
	}
	return a, nil
}

// parseRegisterRef decodes a "kind:address" mapping ExternalID. A bare
// number means a holding register.
func parseRegisterRef(m adapter.MetricMapping) (register, error) {
	kind := "holding"
	ref := m.ExternalID
	if i := strings.IndexByte(ref, ':'); i >= 0 {
		kind = strings.ToLower(strings.TrimSpace(ref[:i]))
		ref = ref[i+1:]
	}
	if kind != "holding" && kind != "input" {
		return register{}, fmt.Errorf("mapping for %s: unsupported register type %q", m.Type, kind)
	}
	addr, err := strconv.ParseUint(strings.TrimSpace(ref), 10, 16)
	if err != nil {
		return register{}, fmt.Errorf("mapping for %s: register address %q: %w", m.Type, ref, err)
	}
	return register{kind: kind, address: uint16(addr), mapping: m}, nil
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.handler.Connect(); err != nil {
		return fmt.Errorf("connect %s: %w", a.handler.Address, err)
	}
	a.client = mb.NewClient(a.handler)
	a.connected.Store(true)
	return nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected.Load() {
		return nil
	}
	a.connected.Store(false)
	return a.handler.Close()
}

func (a *Adapter) IsConnected() bool {
	return a.connected.Load()
}

func (a *Adapter) CollectMetrics(ctx context.Context) ([]adapter.Metric, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected.Load() {
		return nil, adapter.ErrNotConnected
	}

	metrics := make([]adapter.Metric, 0, len(a.registers))
	for _, reg := range a.registers {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		m, err := a.lockedRead(reg)
		if err != nil {
			// One bad register drops the link; the manager reconnects.
			a.connected.Store(false)
			a.handler.Close()
			return nil, fmt.Errorf("read %s:%d: %w", reg.kind, reg.address, err)
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

func (a *Adapter) CollectMetric(ctx context.Context, t adapter.MetricType) (*adapter.Metric, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected.Load() {
		return nil, adapter.ErrNotConnected
	}
	reg, ok := a.byType[t]
	if !ok {
		return nil, fmt.Errorf("no mapping for %s: %w", t, adapter.ErrNotSupported)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := a.lockedRead(reg)
	if err != nil {
		a.connected.Store(false)
		a.handler.Close()
		return nil, fmt.Errorf("read %s:%d: %w", reg.kind, reg.address, err)
	}
	return &m, nil
}

func (a *Adapter) lockedRead(reg register) (adapter.Metric, error) {
	var (
		data []byte
		err  error
	)
	switch reg.kind {
	case "holding":
		data, err = a.client.ReadHoldingRegisters(reg.address, 1)
	case "input":
		data, err = a.client.ReadInputRegisters(reg.address, 1)
	}
	if err != nil {
		return adapter.Metric{}, err
	}
	if len(data) < 2 {
		return adapter.Metric{}, fmt.Errorf("short register read: %d bytes", len(data))
	}
	raw := binary.BigEndian.Uint16(data[:2])
	return reg.mapping.Apply(float64(raw)), nil
}
