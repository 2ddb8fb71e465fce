// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the TOML configuration files the three warden
// daemons read at startup. A missing or invalid file is fatal: every Load*
// function returns an error the caller is expected to treat as
// unrecoverable, per the propagation policy of "fail fast at startup".
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"warden.sh/warden/internal/logging"
)

// FirewallConfig is Config.toml for the firewall daemon (C1+C4): the XDP
// attach point plus the reconciler's poll target and interval.
type FirewallConfig struct {
	EBPF      EBPFSection      `toml:"ebpf"`
	APIServer APIServerSection `toml:"api_server"`
}

// EBPFSection configures the classifier attach point and the reconciler.
type EBPFSection struct {
	Interface          string `toml:"interface"`
	Layer              uint8  `toml:"layer"`
	FwrUpdateDuration  uint64 `toml:"fwr_update_duration"`
}

// Interval returns FwrUpdateDuration as a time.Duration.
func (e EBPFSection) Interval() time.Duration {
	return time.Duration(e.FwrUpdateDuration) * time.Second
}

// APIServerSection is the control-plane base URL a daemon talks to.
type APIServerSection struct {
	BaseURL string `toml:"base_url"`
}

// ExecAuditConfig is Config.toml for the exec-audit daemon (C2+C3): it only
// needs a control-plane endpoint, there is no kernel attach configuration
// beyond the tracepoint itself.
type ExecAuditConfig struct {
	APIServer APIServerSection `toml:"api_server"`
}

// ControlPlaneConfig is Config.toml for the control plane daemon (C5).
type ControlPlaneConfig struct {
	HTTPServer     HTTPServerSection     `toml:"http_server"`
	DatabaseServer DatabaseServerSection `toml:"database_server"`
}

// HTTPServerSection configures the control plane's listener.
type HTTPServerSection struct {
	Port     uint16 `toml:"port"`
	Host     string `toml:"host"`
	Workers  int    `toml:"workers"`
	LogLevel string `toml:"log_level"`
}

// Addr returns host:port for http.Server.
func (h HTTPServerSection) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// Level parses LogLevel, defaulting to info on an empty or unrecognized
// value.
func (h HTTPServerSection) Level() logging.Level {
	switch logging.Level(h.LogLevel) {
	case logging.LevelTrace, logging.LevelDebug, logging.LevelWarn, logging.LevelError:
		return logging.Level(h.LogLevel)
	default:
		return logging.LevelInfo
	}
}

// DatabaseServerSection names the storage backend. The original control
// plane spoke to a networked document database over address/username/
// password/namespace/database; this implementation persists to a local
// SQLite file instead (see DESIGN.md), so Address is reinterpreted as a
// filesystem path (or ":memory:") and the remaining fields are accepted for
// config-file compatibility but otherwise unused.
type DatabaseServerSection struct {
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
}

// Path returns the SQLite file path, defaulting to "warden.db" when Address
// is unset.
func (d DatabaseServerSection) Path() string {
	if d.Address == "" {
		return "warden.db"
	}
	return d.Address
}

// LoadFirewallConfig reads and validates a firewall-daemon config file.
func LoadFirewallConfig(path string) (*FirewallConfig, error) {
	var cfg FirewallConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.EBPF.Interface == "" {
		return nil, fmt.Errorf("config %s: [ebpf].interface is required", path)
	}
	if cfg.EBPF.Layer < 3 || cfg.EBPF.Layer > 4 {
		return nil, fmt.Errorf("config %s: [ebpf].layer must be in [3,4], got %d", path, cfg.EBPF.Layer)
	}
	if cfg.EBPF.FwrUpdateDuration == 0 {
		return nil, fmt.Errorf("config %s: [ebpf].fwr_update_duration must be > 0", path)
	}
	if cfg.APIServer.BaseURL == "" {
		return nil, fmt.Errorf("config %s: [api_server].base_url is required", path)
	}
	return &cfg, nil
}

// LoadExecAuditConfig reads and validates an exec-audit-daemon config file.
func LoadExecAuditConfig(path string) (*ExecAuditConfig, error) {
	var cfg ExecAuditConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.APIServer.BaseURL == "" {
		return nil, fmt.Errorf("config %s: [api_server].base_url is required", path)
	}
	return &cfg, nil
}

// LoadControlPlaneConfig reads and validates a control-plane config file.
func LoadControlPlaneConfig(path string) (*ControlPlaneConfig, error) {
	var cfg ControlPlaneConfig
	if err := load(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.HTTPServer.Port == 0 {
		return nil, fmt.Errorf("config %s: [http_server].port is required", path)
	}
	if cfg.HTTPServer.Host == "" {
		cfg.HTTPServer.Host = "0.0.0.0"
	}
	return &cfg, nil
}

func load(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}
