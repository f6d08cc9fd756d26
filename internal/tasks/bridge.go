// Package tasks wires the configuration into running bridge components.
package tasks

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"station-bridge/internal/adapters/modbus"
	"station-bridge/internal/adapters/mqtt"
	"station-bridge/internal/adapters/serial"
	"station-bridge/internal/adapters/tcp"
	"station-bridge/internal/audit"
	"station-bridge/internal/cloud"
	"station-bridge/internal/command"
	"station-bridge/internal/config"
	"station-bridge/internal/device"
	"station-bridge/internal/manager"
	"station-bridge/internal/monitor"
	"station-bridge/internal/uplink"
	"station-bridge/pkg/adapter"
)

// Options defines initialization overrides for the bridge. Mirrors the CLI
// flags in cmd/bridge/main.go.
type Options struct {
	ConfigPath    string
	DisableUplink bool
	DisableCloud  bool
}

// Run loads config, constructs every component and blocks until ctx is
// canceled.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.LoadYAML(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mgr := manager.New(cfg.ManagerSettings())
	defer mgr.Stop()

	var commandLink device.FrameExchanger
	for _, entry := range cfg.Adapters {
		if !entry.IsEnabled() {
			log.Printf("bridge: adapter %q disabled, skipping", entry.Name)
			continue
		}
		a, err := BuildAdapter(entry)
		if err != nil {
			return err
		}
		if err := mgr.Register(a); err != nil {
			return err
		}
		if entry.Name == cfg.CommandLink {
			fx, ok := a.(device.FrameExchanger)
			if !ok {
				return fmt.Errorf("command_link %q is not a frame-protocol adapter", entry.Name)
			}
			commandLink = fx
		}
	}

	if cfg.Monitor.Enabled {
		go monitor.Serve(ctx, cfg.Monitor.ListenAddress)
	}

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}

	if cfg.Uplink.Enabled && !opts.DisableUplink {
		pub := uplink.NewPublisher(uplink.Config{
			Broker:      cfg.Uplink.Broker,
			Username:    cfg.Uplink.Username,
			Password:    cfg.Uplink.Password,
			TopicPrefix: cfg.Uplink.TopicPrefix,
			QoS:         cfg.Uplink.QoS,
		}, cfg.StationID)
		if err := pub.Connect(); err != nil {
			// Telemetry is best-effort; run without the uplink rather
			// than refusing to start.
			log.Printf("bridge: uplink unavailable: %v", err)
		} else {
			defer pub.Close()
			go pub.Run(ctx, mgr.Metrics())
		}
	}

	if cfg.Cloud.BaseURL != "" && commandLink != nil && !opts.DisableCloud {
		exec := command.NewExecutor(cfg.StationID, cloud.NewClient(cloud.Config{
			BaseURL: cfg.Cloud.BaseURL,
			APIKey:  cfg.Cloud.APIKey,
			Timeout: cfg.Cloud.Timeout.Std(),
		}), device.NewManager(commandLink))

		if cfg.Audit.Enabled {
			store, err := audit.Open(cfg.Audit.DBPath, cfg.StationID)
			if err != nil {
				return fmt.Errorf("open audit store: %w", err)
			}
			defer store.Close()
			exec.SetRecorder(store)
		}
		go commandLoop(ctx, exec, cfg.Cloud.PollInterval.Std())
	}

	<-ctx.Done()
	return nil
}

func commandLoop(ctx context.Context, exec *command.Executor, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := exec.ProcessPending(ctx); err != nil {
				log.Printf("bridge: process pending commands: %v", err)
			}
		}
	}
}

// BuildAdapter constructs the concrete adapter for one config entry.
func BuildAdapter(entry config.AdapterEntry) (adapter.Adapter, error) {
	mappings, err := entry.AdapterMappings()
	if err != nil {
		return nil, err
	}
	timeout := entry.Timeout.Std()

	switch strings.ToLower(strings.TrimSpace(entry.Type)) {
	case "serial":
		return serial.New(serial.Config{
			Name:     entry.Name,
			Port:     entry.Connection.SerialPort,
			BaudRate: entry.Connection.BaudRate,
			DataBits: entry.Connection.DataBits,
			StopBits: entry.Connection.StopBits,
			Parity:   entry.Connection.Parity,
			Timeout:  timeout,
			Mappings: mappings,
		})
	case "tcp":
		return tcp.New(tcp.Config{
			Name:     entry.Name,
			Address:  net.JoinHostPort(entry.Connection.Host, strconv.Itoa(entry.Connection.Port)),
			Timeout:  timeout,
			Mappings: mappings,
		})
	case "mqtt":
		return mqtt.New(mqtt.Config{
			Name:     entry.Name,
			Broker:   entry.Connection.Broker,
			Username: entry.Connection.Username,
			Password: entry.Connection.Password,
			QoS:      entry.Connection.QoS,
			Timeout:  timeout,
			Mappings: mappings,
		})
	case "modbus":
		return modbus.New(modbus.Config{
			Name:     entry.Name,
			Address:  net.JoinHostPort(entry.Connection.Host, strconv.Itoa(entry.Connection.Port)),
			SlaveID:  entry.Connection.SlaveID,
			Timeout:  timeout,
			Mappings: mappings,
		})
	default:
		return nil, fmt.Errorf("adapter %q: unsupported type %q", entry.Name, entry.Type)
	}
}
