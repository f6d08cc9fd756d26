// Package mqtt implements the adapter contract for devices that push their
// readings over an MQTT broker. The adapter subscribes to one topic per
// mapping and retains the last observed value; collection snapshots the
// retained set rather than polling.
package mqtt

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"station-bridge/pkg/adapter"
)

type Config struct {
	Name     string
	Broker   string // e.g. tcp://broker:1883
	Username string
	Password string
	ClientID string
	QoS      byte
	Timeout  time.Duration
	Mappings []adapter.MetricMapping // ExternalID = topic
}

type Adapter struct {
	cfg      Config
	mappings map[string]adapter.MetricMapping // keyed by topic

	// connectMu serializes Connect and Close, which block on the broker.
	// mu guards only the client pointer and the latest-value map and is
	// never held across I/O, so IsConnected stays cheap mid-connect.
	connectMu sync.Mutex

	mu     sync.Mutex
	client pahomqtt.Client
	latest map[adapter.MetricType]float32
}

var _ adapter.Adapter = (*Adapter)(nil)

func New(cfg Config) (*Adapter, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt adapter %q: broker is required", cfg.Name)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "station-bridge-" + uuid.NewString()[:8]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	a := &Adapter{
		cfg:      cfg,
		mappings: make(map[string]adapter.MetricMapping, len(cfg.Mappings)),
		latest:   make(map[adapter.MetricType]float32),
	}
	for _, m := range cfg.Mappings {
		if m.ExternalID == "" {
			return nil, fmt.Errorf("mqtt adapter %q: mapping for %s has no topic", cfg.Name, m.Type)
		}
		a.mappings[m.ExternalID] = m
	}
	return a, nil
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) Connect(ctx context.Context) error {
	a.connectMu.Lock()
	defer a.connectMu.Unlock()
	a.mu.Lock()
	existing := a.client
	a.mu.Unlock()
	if existing != nil && existing.IsConnected() {
		return nil
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(a.cfg.Broker).
		SetClientID(a.cfg.ClientID).
		SetConnectTimeout(a.cfg.Timeout).
		SetAutoReconnect(true).
		SetOnConnectHandler(a.onConnect).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Printf("mqtt adapter %s: connection lost: %v", a.cfg.Name, err)
		})
	if a.cfg.Username != "" {
		opts.SetUsername(a.cfg.Username)
		opts.SetPassword(a.cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(a.cfg.Timeout) {
		client.Disconnect(0)
		return fmt.Errorf("connect %s: timeout", a.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect %s: %w", a.cfg.Broker, err)
	}
	select {
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	default:
	}
	a.mu.Lock()
	a.client = client
	a.mu.Unlock()
	return nil
}

// onConnect resubscribes on every (re)connect; paho does not replay
// subscriptions across sessions by itself.
func (a *Adapter) onConnect(client pahomqtt.Client) {
	for topic := range a.mappings {
		if token := client.Subscribe(topic, a.cfg.QoS, a.onReading); token.Wait() && token.Error() != nil {
			log.Printf("mqtt adapter %s: subscribe %s: %v", a.cfg.Name, topic, token.Error())
		}
	}
}

func (a *Adapter) onReading(_ pahomqtt.Client, msg pahomqtt.Message) {
	mapping, ok := a.mappings[msg.Topic()]
	if !ok {
		return
	}
	raw, err := strconv.ParseFloat(string(msg.Payload()), 64)
	if err != nil {
		log.Printf("mqtt adapter %s: topic %s: bad reading %q", a.cfg.Name, msg.Topic(), msg.Payload())
		return
	}
	m := mapping.Apply(raw)
	a.mu.Lock()
	a.latest[m.Type] = m.Value
	a.mu.Unlock()
}

func (a *Adapter) Close() error {
	a.connectMu.Lock()
	defer a.connectMu.Unlock()
	a.mu.Lock()
	client := a.client
	a.client = nil
	a.mu.Unlock()
	if client == nil {
		return nil
	}
	client.Disconnect(250)
	return nil
}

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()
	return client != nil && client.IsConnected()
}

// CollectMetrics snapshots the last value seen per subscribed metric.
// Metrics nothing has pushed yet are absent, not zero.
func (a *Adapter) CollectMetrics(ctx context.Context) ([]adapter.Metric, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil, adapter.ErrNotConnected
	}
	out := make([]adapter.Metric, 0, len(a.latest))
	for t, v := range a.latest {
		out = append(out, adapter.Metric{Type: t, Value: v})
	}
	return out, nil
}

// CollectMetric is not supported: the broker pushes readings on its own
// schedule and there is nothing to poll on demand.
func (a *Adapter) CollectMetric(ctx context.Context, t adapter.MetricType) (*adapter.Metric, error) {
	return nil, adapter.ErrNotSupported
}
