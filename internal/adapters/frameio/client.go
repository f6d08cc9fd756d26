package frameio

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"station-bridge/pkg/adapter"
	"station-bridge/pkg/frameproto"
)

// Client implements the collection half of the adapter contract on top of
// any frame-protocol transport. The owning adapter supplies the connection;
// Client owns the parser, the sequence counter and the mapping tables.
//
// All exchanges are serialized under one lock: the parser is scoped to a
// single physical connection and must never see interleaved reads. The
// connectivity flag lives outside that lock so IsConnected stays cheap while
// an exchange is in flight.
type Client struct {
	mu      sync.Mutex
	conn    io.ReadWriteCloser
	parser  *frameproto.Parser
	seq     byte
	timeout time.Duration

	connected atomic.Bool

	mappings map[uint8]adapter.MetricMapping
	codes    map[adapter.MetricType]uint8
}

type deadlineConn interface {
	SetReadDeadline(t time.Time) error
}

// NewClient parses the mapping table. For frame-protocol devices the
// mapping ExternalID is the decimal record code the device reports.
func NewClient(mappings []adapter.MetricMapping, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := &Client{
		parser:   frameproto.NewParser(),
		timeout:  timeout,
		mappings: make(map[uint8]adapter.MetricMapping, len(mappings)),
		codes:    make(map[adapter.MetricType]uint8, len(mappings)),
	}
	for _, m := range mappings {
		code, err := strconv.ParseUint(m.ExternalID, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("mapping for %s: record code %q: %w", m.Type, m.ExternalID, err)
		}
		if _, dup := c.mappings[uint8(code)]; dup {
			return nil, fmt.Errorf("duplicate record code %d", code)
		}
		c.mappings[uint8(code)] = m
		c.codes[m.Type] = uint8(code)
	}
	return c, nil
}

// SetConn installs a freshly opened transport connection.
func (c *Client) SetConn(conn io.ReadWriteCloser) {
	c.mu.Lock()
	c.conn = conn
	c.parser.Reset()
	c.connected.Store(conn != nil)
	c.mu.Unlock()
}

// Close drops the connection. Safe on an already closed client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.connected.Store(false)
	return err
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// CRCErrors reports the parser's running CRC failure count.
func (c *Client) CRCErrors() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.parser.CRCErrors()
}

// Exchange sends req and waits for the device's reply frame. A transport
// error drops the connection so the manager's reconnection loop picks the
// adapter up again.
func (c *Client) Exchange(ctx context.Context, req frameproto.Message) (frameproto.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lockedExchange(ctx, req)
}

func (c *Client) lockedExchange(ctx context.Context, req frameproto.Message) (frameproto.Message, error) {
	if c.conn == nil {
		return frameproto.Message{}, adapter.ErrNotConnected
	}
	c.seq++
	req.Sequence = c.seq

	if dc, ok := c.conn.(deadlineConn); ok {
		deadline := time.Now().Add(c.timeout)
		if d, has := ctx.Deadline(); has && d.Before(deadline) {
			deadline = d
		}
		_ = dc.SetReadDeadline(deadline)
	}

	resp, err := Exchange(ctx, c.conn, c.parser, req)
	if err != nil {
		c.conn.Close()
		c.conn = nil
		c.connected.Store(false)
		return frameproto.Message{}, err
	}
	return resp, nil
}

// CollectMetrics polls the device for a full metric report.
func (c *Client) CollectMetrics(ctx context.Context) ([]adapter.Metric, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	resp, err := c.lockedExchange(ctx, frameproto.Message{Type: frameproto.MsgTypeMetricRequest})
	if err != nil {
		return nil, err
	}
	if resp.Type != frameproto.MsgTypeMetricReport {
		return nil, fmt.Errorf("unexpected reply type 0x%02x", resp.Type)
	}
	return DecodeMetricRecords(resp.Payload, c.mappings)
}

// CollectMetric polls the device for a single mapped metric.
func (c *Client) CollectMetric(ctx context.Context, t adapter.MetricType) (*adapter.Metric, error) {
	c.mu.Lock()
	code, ok := c.codes[t]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("no mapping for %s: %w", t, adapter.ErrNotSupported)
	}

	resp, err := c.lockedExchange(ctx, frameproto.Message{
		Type:    frameproto.MsgTypeMetricRequest,
		Payload: []byte{code},
	})
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if resp.Type != frameproto.MsgTypeMetricReport {
		return nil, fmt.Errorf("unexpected reply type 0x%02x", resp.Type)
	}
	metrics, err := DecodeMetricRecords(resp.Payload, c.mappings)
	if err != nil {
		return nil, err
	}
	for _, m := range metrics {
		if m.Type == t {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("device did not report %s", t)
}
