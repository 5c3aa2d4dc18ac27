package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks the config for required fields and legal values, reporting
// every problem at once.
func Validate(cfg *AgentConfig) error {
	var errs []string

	if cfg.Version == "" {
		errs = append(errs, "version is required")
	}
	if strings.TrimSpace(cfg.Service.Name) == "" {
		errs = append(errs, "service.name is required")
	}
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		errs = append(errs, "server.addr is required")
	}

	if cfg.Engine.MailboxDepth < 1 {
		errs = append(errs, fmt.Sprintf("engine.mailbox_depth must be positive, got %d", cfg.Engine.MailboxDepth))
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"server.read_timeout_ms", cfg.Server.ReadTimeoutMs},
		{"server.write_timeout_ms", cfg.Server.WriteTimeoutMs},
		{"server.idle_timeout_ms", cfg.Server.IdleTimeoutMs},
		{"engine.call_timeout_ms", cfg.Engine.CallTimeoutMs},
		{"engine.idle_timeout_ms", cfg.Engine.IdleTimeoutMs},
		{"engine.sweep_interval_ms", cfg.Engine.SweepIntervalMs},
		{"compute.request_timeout_ms", cfg.Compute.RequestTimeoutMs},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Sprintf("%s must not be negative, got %d", f.name, f.v))
		}
	}

	if t := cfg.Compute.HostTemplate; t != "" && !strings.Contains(t, "{region}") {
		errs = append(errs, fmt.Sprintf("compute.host_template %q must contain {region}", t))
	}

	switch cfg.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			errs = append(errs, "store.path is required for the sqlite driver")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or memory, got %q", cfg.Store.Driver))
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be text or json, got %q", cfg.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseLevel maps a config log level to a slog.Level.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", raw)
	}
}
