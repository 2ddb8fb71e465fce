// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command firewalld runs the XDP packet classifier (C1) and the rule
// reconciler (C4): it loads the classifier onto one interface, then polls
// the control plane on a timer to keep the kernel's rule table current.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"warden.sh/warden/internal/config"
	"warden.sh/warden/internal/ctlplaneclient"
	"warden.sh/warden/internal/drain"
	"warden.sh/warden/internal/ebpf/loader"
	"warden.sh/warden/internal/ebpf/maps"
	"warden.sh/warden/internal/ebpf/metrics"
	"warden.sh/warden/internal/ebpf/programs"
	"warden.sh/warden/internal/logging"
	"warden.sh/warden/internal/reconciler"
)

// metricsAddr is the Prometheus exposition listen address for this daemon.
// There is no config field for it (the TOML schema is fixed by spec), so it
// is a build-time default rather than something an operator can override.
const metricsAddr = ":9101"

func main() {
	configPath := flag.String("config-path", "Config.toml", "path to TOML config file")
	flag.Parse()

	log := logging.Default().WithComponent("firewalld")

	cfg, err := config.LoadFirewallConfig(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("firewalld exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.FirewallConfig, log *logging.Logger) error {
	if err := loader.VerifyKernelSupport(); err != nil {
		return fmt.Errorf("kernel support check: %w", err)
	}

	spec, err := programs.LoadXdpClassifierSpec()
	if err != nil {
		return fmt.Errorf("load classifier spec: %w", err)
	}

	ld := loader.NewLoader()
	if err := ld.LoadCollection(spec); err != nil {
		return fmt.Errorf("load classifier collection: %w", err)
	}
	defer ld.Close()

	mtr := metrics.NewMetrics()

	if err := ld.AttachXDP(programs.XdpClassifierProgramName, cfg.EBPF.Interface); err != nil {
		mtr.HookErrors.WithLabelValues("xdp", "attach").Inc()
		return fmt.Errorf("attach xdp to %s: %w", cfg.EBPF.Interface, err)
	}
	log.Info("xdp classifier attached", "interface", cfg.EBPF.Interface)
	mtr.HookAttached.WithLabelValues(programs.XdpClassifierProgramName, cfg.EBPF.Interface).Set(1)
	mtr.RegisterMetrics()
	metricsSrv := metrics.ServeHTTP(metricsAddr)

	mgr := maps.NewManager(ld.GetCollection())
	if err := mgr.RegisterAll(); err != nil {
		return fmt.Errorf("register maps: %w", err)
	}
	ruleMgr, err := maps.NewRuleManager(mgr)
	if err != nil {
		return fmt.Errorf("build rule manager: %w", err)
	}

	client := ctlplaneclient.New(cfg.APIServer.BaseURL)

	logMap, err := ld.GetMap("FIREWALL_LOG")
	if err != nil {
		return fmt.Errorf("lookup FIREWALL_LOG map: %w", err)
	}
	logDrain, err := drain.NewFirewallLogDrain(logMap.GetMap(), client, log, mtr)
	if err != nil {
		return fmt.Errorf("open firewall log drain: %w", err)
	}
	defer logDrain.Close()

	rec := reconciler.New(ruleMgr, client, cfg.EBPF.Layer, cfg.EBPF.Interval(), log, mtr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	go rec.Run(ctx)
	go func() {
		if err := logDrain.Run(ctx); err != nil {
			log.Error("firewall log drain exited", "error", err)
		}
	}()

	<-ctx.Done()
	rec.Stop()
	if err := metrics.Shutdown(context.Background(), metricsSrv); err != nil {
		log.Warn("metrics server shutdown error", "error", err)
	}
	log.Info("firewalld stopped")
	return nil
}
