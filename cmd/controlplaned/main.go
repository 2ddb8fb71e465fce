// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command controlplaned runs the HTTP control plane (C5): it serves the
// authoritative ruleset to the reconciler and persists the events the
// drain forwards.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"warden.sh/warden/internal/config"
	"warden.sh/warden/internal/controlplane"
	"warden.sh/warden/internal/logging"
)

func main() {
	configPath := flag.String("config-path", "Config.toml", "path to TOML config file")
	flag.Parse()

	log := logging.Default().WithComponent("controlplaned")

	cfg, err := config.LoadControlPlaneConfig(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logging.SetDefault(logging.New(logging.Config{Level: cfg.HTTPServer.Level(), Output: os.Stderr}))
	log = logging.Default().WithComponent("controlplaned")

	if err := run(cfg, log); err != nil {
		log.Error("controlplaned exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.ControlPlaneConfig, log *logging.Logger) error {
	store, err := controlplane.Open(cfg.DatabaseServer.Path())
	if err != nil {
		return err
	}
	defer store.Close()

	srv := controlplane.NewServer(store, cfg.HTTPServer.Addr(), controlplane.DefaultServerConfig(), log)
	srv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	<-ctx.Done()
	if err := srv.Shutdown(context.Background()); err != nil {
		return err
	}
	log.Info("controlplaned stopped")
	return nil
}
