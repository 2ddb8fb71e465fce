// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command execauditd runs the exec tracepoint tracer (C2) and drains its
// ring buffer to the control plane (the C3 half belonging to this daemon).
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
	"warden.sh/warden/internal/ebpf/metrics"
	"warden.sh/warden/internal/ebpf/programs"
	"warden.sh/warden/internal/logging"
)

// metricsAddr is the Prometheus exposition listen address for this daemon.
// There is no config field for it (the TOML schema is fixed by spec), so it
// is a build-time default rather than something an operator can override.
const metricsAddr = ":9102"

func main() {
	configPath := flag.String("config-path", "Config.toml", "path to TOML config file")
	flag.Parse()

	log := logging.Default().WithComponent("execauditd")

	cfg, err := config.LoadExecAuditConfig(*configPath)
	if err != nil {
		log.Error("config load failed", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("execauditd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.ExecAuditConfig, log *logging.Logger) error {
	if err := loader.VerifyKernelSupport(); err != nil {
		return fmt.Errorf("kernel support check: %w", err)
	}

	spec, err := programs.LoadExecTracerSpec()
	if err != nil {
		return fmt.Errorf("load exec tracer spec: %w", err)
	}

	ld := loader.NewLoader()
	if err := ld.LoadCollection(spec); err != nil {
		return fmt.Errorf("load exec tracer collection: %w", err)
	}
	defer ld.Close()

	mtr := metrics.NewMetrics()

	if err := ld.AttachTracepoint(programs.ExecTracerProgramName, "syscalls", "sys_enter_execve"); err != nil {
		mtr.HookErrors.WithLabelValues("tracepoint", "attach").Inc()
		return fmt.Errorf("attach tracepoint: %w", err)
	}
	log.Info("exec tracer attached", "tracepoint", "syscalls/sys_enter_execve")
	mtr.HookAttached.WithLabelValues(programs.ExecTracerProgramName, "syscalls/sys_enter_execve").Set(1)
	mtr.RegisterMetrics()
	metricsSrv := metrics.ServeHTTP(metricsAddr)

	client := ctlplaneclient.New(cfg.APIServer.BaseURL)

	eventsMap, err := ld.GetMap("COMMAND_EVENTS")
	if err != nil {
		return fmt.Errorf("lookup COMMAND_EVENTS map: %w", err)
	}
	execDrain, err := drain.NewExecDrain(eventsMap.GetMap(), client, log, mtr)
	if err != nil {
		return fmt.Errorf("open exec drain: %w", err)
	}
	defer execDrain.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := execDrain.Run(ctx); err != nil {
		if shutdownErr := metrics.Shutdown(context.Background(), metricsSrv); shutdownErr != nil {
			log.Warn("metrics server shutdown error", "error", shutdownErr)
		}
		return fmt.Errorf("exec drain stopped: %w", err)
	}

	if err := metrics.Shutdown(context.Background(), metricsSrv); err != nil {
		log.Warn("metrics server shutdown error", "error", err)
	}
	log.Info("execauditd stopped")
	return nil
}
