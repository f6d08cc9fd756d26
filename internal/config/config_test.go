package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"station-bridge/pkg/adapter"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
station_id: bs-001
manager:
  collect_interval: 15s
  metrics_buffer_size: 500
  retry_on_failure: false
cloud:
  base_url: https://cloud.example.com
  api_key: secret
  timeout: 10s
uplink:
  enabled: true
  broker: tcp://127.0.0.1:1883
  topic_prefix: stations
monitor:
  enabled: true
adapters:
  - name: cabinet
    type: tcp
    timeout: 5s
    connection:
      host: 192.168.1.10
      port: 9500
    mappings:
      - external_id: "1"
        metric: temperature
        scale: 0.1
      - external_id: "2"
        metric: voltage
  - name: power-meter
    type: modbus
    enabled: false
    connection:
      host: 192.168.1.20
      port: 502
      slave_id: 1
    mappings:
      - external_id: "holding:0"
        metric: power_output
command_link: cabinet
`

func TestLoadYAML(t *testing.T) {
	t.Parallel()

	cfg, err := LoadYAML(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}

	if cfg.StationID != "bs-001" {
		t.Fatalf("station_id = %q", cfg.StationID)
	}
	if cfg.Manager.CollectInterval.Std() != 15*time.Second {
		t.Fatalf("collect_interval = %s", cfg.Manager.CollectInterval.Std())
	}
	if cfg.CommandLink != "cabinet" {
		t.Fatalf("command_link = %q", cfg.CommandLink)
	}
	if len(cfg.Adapters) != 2 {
		t.Fatalf("got %d adapters", len(cfg.Adapters))
	}
	if !cfg.Adapters[0].IsEnabled() {
		t.Fatal("adapter without enabled flag should default to enabled")
	}
	if cfg.Adapters[1].IsEnabled() {
		t.Fatal("explicitly disabled adapter reported enabled")
	}

	// Defaults applied for omitted fields.
	if cfg.Cloud.PollInterval.Std() != time.Minute {
		t.Fatalf("poll_interval default = %s", cfg.Cloud.PollInterval.Std())
	}
	if cfg.Monitor.ListenAddress != ":9090" {
		t.Fatalf("monitor listen_address default = %q", cfg.Monitor.ListenAddress)
	}
	if cfg.Audit.DBPath != "data/commands.sqlite" {
		t.Fatalf("audit db_path default = %q", cfg.Audit.DBPath)
	}
}

func TestManagerSettings(t *testing.T) {
	t.Parallel()

	cfg, err := LoadYAML(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}
	mc := cfg.ManagerSettings()
	if mc.CollectInterval != 15*time.Second {
		t.Fatalf("CollectInterval = %s", mc.CollectInterval)
	}
	if mc.MetricsBufferSize != 500 {
		t.Fatalf("MetricsBufferSize = %d", mc.MetricsBufferSize)
	}
	if mc.RetryOnFailure {
		t.Fatal("retry_on_failure: false not honored")
	}
}

func TestManagerSettingsRetryDefaultsTrue(t *testing.T) {
	t.Parallel()

	var cfg Config
	if cfg.ManagerSettings().RetryOnFailure != true {
		t.Fatal("RetryOnFailure should default to true when omitted")
	}
}

func TestAdapterMappings(t *testing.T) {
	t.Parallel()

	cfg, err := LoadYAML(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}
	mappings, err := cfg.Adapters[0].AdapterMappings()
	if err != nil {
		t.Fatalf("AdapterMappings failed: %v", err)
	}
	if len(mappings) != 2 {
		t.Fatalf("got %d mappings", len(mappings))
	}
	if mappings[0].Type != adapter.MetricTemperature || mappings[0].Scale != 0.1 {
		t.Fatalf("first mapping: %+v", mappings[0])
	}
	if mappings[1].Type != adapter.MetricVoltage {
		t.Fatalf("second mapping: %+v", mappings[1])
	}
}

func TestDurationIntegerSeconds(t *testing.T) {
	t.Parallel()

	body := `
station_id: bs-001
manager:
  collect_interval: 45
adapters:
  - name: cabinet
    type: tcp
    connection: {host: 127.0.0.1, port: 9500}
`
	cfg, err := LoadYAML(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadYAML failed: %v", err)
	}
	if cfg.Manager.CollectInterval.Std() != 45*time.Second {
		t.Fatalf("bare integer duration = %s, want 45s", cfg.Manager.CollectInterval.Std())
	}
}

func TestLoadYAMLValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"missing station_id", `
adapters:
  - {name: a, type: tcp}
`},
		{"no adapters", `
station_id: bs-001
adapters: []
`},
		{"duplicate adapter name", `
station_id: bs-001
adapters:
  - {name: a, type: tcp}
  - {name: a, type: serial}
`},
		{"unsupported adapter type", `
station_id: bs-001
adapters:
  - {name: a, type: netconf}
`},
		{"unknown metric", `
station_id: bs-001
adapters:
  - name: a
    type: tcp
    mappings:
      - {external_id: "1", metric: frobnication}
`},
		{"dangling command_link", `
station_id: bs-001
adapters:
  - {name: a, type: tcp}
command_link: missing
`},
		{"bad duration", `
station_id: bs-001
manager:
  collect_interval: soon
adapters:
  - {name: a, type: tcp}
`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := LoadYAML(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("config accepted: %s", tc.body)
			}
		})
	}
}

func TestLoadYAMLMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadYAML(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
