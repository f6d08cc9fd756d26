// Package adapter defines the capability contract every protocol collector
// implements, plus the metric types shared between adapters and the manager.
package adapter

import (
	"context"
	"errors"
	"fmt"
)

// MetricType enumerates the metric kinds a base station reports.
type MetricType uint8

const (
	MetricTemperature MetricType = iota + 1
	MetricVoltage
	MetricCurrent
	MetricPowerOutput
	MetricSignalStrength
	MetricSNR
	MetricUptime
	MetricCPULoad
	MetricMemoryUsage
)

var metricNames = map[MetricType]string{
	MetricTemperature:    "temperature",
	MetricVoltage:        "voltage",
	MetricCurrent:        "current",
	MetricPowerOutput:    "power_output",
	MetricSignalStrength: "signal_strength",
	MetricSNR:            "snr",
	MetricUptime:         "uptime",
	MetricCPULoad:        "cpu_load",
	MetricMemoryUsage:    "memory_usage",
}

func (t MetricType) String() string {
	if s, ok := metricNames[t]; ok {
		return s
	}
	return fmt.Sprintf("metric(%d)", uint8(t))
}

// ParseMetricType resolves a config-supplied metric name.
func ParseMetricType(s string) (MetricType, bool) {
	for t, name := range metricNames {
		if name == s {
			return t, true
		}
	}
	return 0, false
}

// Metric is one immutable reading produced by an adapter.
type Metric struct {
	Type  MetricType
	Value float32
}

// MetricMapping translates a device-native reading into a Metric.
// ExternalID identifies the reading in the device's own namespace: a record
// code for frame-protocol devices, a topic for MQTT, a register reference
// for Modbus.
type MetricMapping struct {
	ExternalID string
	Type       MetricType
	Scale      float64
	Offset     float64
}

// Apply runs the raw*Scale+Offset transform. A zero Scale is treated as 1
// so that mappings without an explicit scale pass readings through.
func (m MetricMapping) Apply(raw float64) Metric {
	scale := m.Scale
	if scale == 0 {
		scale = 1
	}
	return Metric{Type: m.Type, Value: float32(raw*scale + m.Offset)}
}

var (
	// ErrNotSupported is returned by CollectMetric on push-based adapters
	// that cannot poll a single metric on demand.
	ErrNotSupported = errors.New("adapter: operation not supported")

	// ErrNotConnected is returned by collection calls on a closed or never
	// connected adapter.
	ErrNotConnected = errors.New("adapter: not connected")
)

// Adapter is the uniform contract the manager drives. Connect, Close and
// CollectMetrics may block on I/O and must honor ctx; IsConnected must be
// cheap and non-blocking. The manager calls into an adapter from multiple
// goroutines, so implementations synchronize internally.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	CollectMetrics(ctx context.Context) ([]Metric, error)
	CollectMetric(ctx context.Context, t MetricType) (*Metric, error)
}
