// Package config loads the bridge's YAML configuration and translates it
// into the typed configs the other packages consume.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"station-bridge/internal/manager"
	"station-bridge/pkg/adapter"
)

// Duration accepts human-readable YAML durations ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value")
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	StationID string         `yaml:"station_id"`
	Manager   ManagerConfig  `yaml:"manager"`
	Cloud     CloudConfig    `yaml:"cloud"`
	Uplink    UplinkConfig   `yaml:"uplink"`
	Audit     AuditConfig    `yaml:"audit"`
	Monitor   MonitorConfig  `yaml:"monitor"`
	Adapters  []AdapterEntry `yaml:"adapters"`

	// CommandLink names the adapter whose frame connection carries cloud
	// commands to the hardware. Optional; command dispatch is disabled
	// without it.
	CommandLink string `yaml:"command_link"`
}

type ManagerConfig struct {
	CollectInterval          Duration `yaml:"collect_interval"`
	MetricsBufferSize        int      `yaml:"metrics_buffer_size"`
	MaxConcurrentCollections int      `yaml:"max_concurrent_collections"`
	RetryOnFailure           *bool    `yaml:"retry_on_failure"`
	RetryInterval            Duration `yaml:"retry_interval"`
}

type CloudConfig struct {
	BaseURL      string   `yaml:"base_url"`
	APIKey       string   `yaml:"api_key"`
	Timeout      Duration `yaml:"timeout"`
	PollInterval Duration `yaml:"poll_interval"`
}

type UplinkConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

type MonitorConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

type AdapterEntry struct {
	Name       string       `yaml:"name"`
	Type       string       `yaml:"type"` // serial | tcp | mqtt | modbus
	Enabled    *bool        `yaml:"enabled"`
	Timeout    Duration     `yaml:"timeout"`
	Connection Connection   `yaml:"connection"`
	Mappings   []MappingRef `yaml:"mappings"`
}

type Connection struct {
	// tcp / modbus
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// serial
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
	DataBits   int    `yaml:"data_bits"`
	StopBits   int    `yaml:"stop_bits"`
	Parity     string `yaml:"parity"`
	// mqtt
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
	// modbus
	SlaveID uint8 `yaml:"slave_id"`
}

type MappingRef struct {
	ExternalID string  `yaml:"external_id"`
	Metric     string  `yaml:"metric"`
	Scale      float64 `yaml:"scale"`
	Offset     float64 `yaml:"offset"`
}

// IsEnabled defaults to true when the flag is omitted.
func (a AdapterEntry) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// AdapterMappings resolves the entry's metric names.
func (a AdapterEntry) AdapterMappings() ([]adapter.MetricMapping, error) {
	out := make([]adapter.MetricMapping, 0, len(a.Mappings))
	for _, m := range a.Mappings {
		t, ok := adapter.ParseMetricType(m.Metric)
		if !ok {
			return nil, fmt.Errorf("adapter %q: unknown metric %q", a.Name, m.Metric)
		}
		out = append(out, adapter.MetricMapping{
			ExternalID: m.ExternalID,
			Type:       t,
			Scale:      m.Scale,
			Offset:     m.Offset,
		})
	}
	return out, nil
}

// ManagerSettings converts the YAML section into the manager's config,
// leaving zero values to the manager's own defaulting.
func (c Config) ManagerSettings() manager.Config {
	mc := manager.Config{
		CollectInterval:          c.Manager.CollectInterval.Std(),
		MetricsBufferSize:        c.Manager.MetricsBufferSize,
		MaxConcurrentCollections: c.Manager.MaxConcurrentCollections,
		RetryOnFailure:           true,
		RetryInterval:            c.Manager.RetryInterval.Std(),
	}
	if c.Manager.RetryOnFailure != nil {
		mc.RetryOnFailure = *c.Manager.RetryOnFailure
	}
	return mc
}

// LoadYAML reads, parses and validates the bridge configuration.
func LoadYAML(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	// Defaults
	if cfg.Cloud.PollInterval <= 0 {
		cfg.Cloud.PollInterval = Duration(time.Minute)
	}
	if cfg.Monitor.ListenAddress == "" {
		cfg.Monitor.ListenAddress = ":9090"
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = "data/commands.sqlite"
	}

	// Validation
	if strings.TrimSpace(cfg.StationID) == "" {
		return Config{}, fmt.Errorf("station_id must be set")
	}
	if len(cfg.Adapters) == 0 {
		return Config{}, fmt.Errorf("no adapters configured")
	}
	seen := make(map[string]bool, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		if strings.TrimSpace(a.Name) == "" {
			return Config{}, fmt.Errorf("adapter with empty name")
		}
		if seen[a.Name] {
			return Config{}, fmt.Errorf("duplicate adapter name %q", a.Name)
		}
		seen[a.Name] = true
		switch strings.ToLower(strings.TrimSpace(a.Type)) {
		case "serial", "tcp", "mqtt", "modbus":
		default:
			return Config{}, fmt.Errorf("adapter %q: unsupported type %q", a.Name, a.Type)
		}
		if _, err := a.AdapterMappings(); err != nil {
			return Config{}, err
		}
	}
	if cfg.CommandLink != "" && !seen[cfg.CommandLink] {
		return Config{}, fmt.Errorf("command_link %q does not name a configured adapter", cfg.CommandLink)
	}
	return cfg, nil
}
