package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/jupyterwire/internal/client"
)

type fileConfig struct {
	Username                 string `toml:"username"`
	Timeout                  string `toml:"timeout"`
	AwaitIdle                bool   `toml:"await_idle"`
	HeartbeatInterval        string `toml:"heartbeat_interval"`
	HeartbeatDeadAfter       string `toml:"heartbeat_dead_after"`
	HeartbeatAllowedFailures int    `toml:"heartbeat_allowed_failures"`
}

type ctlConfig struct {
	Client  client.Options
	Timeout time.Duration
}

func defaultCtlConfig() ctlConfig {
	opts := client.DefaultOptions()
	opts.Username = "kernelctl"
	return ctlConfig{Client: opts, Timeout: 30 * time.Second}
}

// loadCtlConfig overlays the keys defined in path onto defaultCtlConfig.
// An empty path returns the defaults.
func loadCtlConfig(path string) (ctlConfig, error) {
	cfg := defaultCtlConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ctlConfig{}, fmt.Errorf("load kernelctl config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return ctlConfig{}, fmt.Errorf("load kernelctl config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("username") {
		if v := strings.TrimSpace(raw.Username); v != "" {
			cfg.Client.Username = v
		}
	}
	if meta.IsDefined("await_idle") {
		cfg.Client.AwaitIdle = raw.AwaitIdle
	}
	if meta.IsDefined("heartbeat_allowed_failures") {
		if raw.HeartbeatAllowedFailures < 0 {
			return ctlConfig{}, fmt.Errorf("heartbeat_allowed_failures must be >= 0")
		}
		cfg.Client.Heartbeat.AllowedFailures = raw.HeartbeatAllowedFailures
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout", raw.Timeout, &cfg.Timeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.Client.Heartbeat.Interval},
		{"heartbeat_dead_after", raw.HeartbeatDeadAfter, &cfg.Client.Heartbeat.DeadAfter},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return ctlConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		if v <= 0 {
			return ctlConfig{}, fmt.Errorf("parse %s: must be positive", d.key)
		}
		*d.dst = v
	}
	return cfg, nil
}
