package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"station-bridge/internal/tasks"
)

func main() {
	var opts tasks.Options
	flag.StringVar(&opts.ConfigPath, "config", "config/bridge.yaml", "path to YAML config")
	flag.BoolVar(&opts.DisableUplink, "no-uplink", false, "do not publish telemetry upstream")
	flag.BoolVar(&opts.DisableCloud, "no-cloud", false, "do not poll the cloud for commands")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT/SIGTERM for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Printf("received signal: %v, shutting down...", s)
		cancel()
	}()

	if err := tasks.Run(ctx, opts); err != nil {
		log.Fatalf("bridge exited with error: %v", err)
	}
}
