// Package uplink drains the manager's metrics channel into the platform's
// MQTT broker, one JSON message per metric on
// <prefix>/<station>/<metric name>.
package uplink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"station-bridge/pkg/adapter"
)

type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

type telemetryMessage struct {
	Station   string    `json:"station"`
	Metric    string    `json:"metric"`
	Value     float32   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher pushes bridge telemetry upstream.
type Publisher struct {
	cfg       Config
	stationID string
	client    pahomqtt.Client
}

func NewPublisher(cfg Config, stationID string) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "stations/telemetry"
	}
	return &Publisher{cfg: cfg, stationID: stationID}
}

func (p *Publisher) Connect() error {
	opts := pahomqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID("station-bridge-uplink-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Printf("uplink: connection lost: %v", err)
		})
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	p.client = pahomqtt.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("uplink connect %s: %w", p.cfg.Broker, token.Error())
	}
	return nil
}

func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Disconnect(250)
	}
}

// Run pumps metrics into the broker until ctx is canceled or the channel
// closes. Publish failures are logged and the metric dropped; the uplink
// shares the pipeline's best-effort delivery stance.
func (p *Publisher) Run(ctx context.Context, metrics <-chan adapter.Metric) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-metrics:
			if !ok {
				return
			}
			if err := p.publish(m); err != nil {
				log.Printf("uplink: publish %s: %v", m.Type, err)
			}
		}
	}
}

func (p *Publisher) publish(m adapter.Metric) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("not connected")
	}
	payload, err := json.Marshal(telemetryMessage{
		Station:   p.stationID,
		Metric:    m.Type.String(),
		Value:     m.Value,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("%s/%s/%s", p.cfg.TopicPrefix, p.stationID, m.Type)
	token := p.client.Publish(topic, p.cfg.QoS, false, payload)
	token.Wait()
	return token.Error()
}
