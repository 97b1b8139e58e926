package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// KernelConfig is the runtime tuning file for a kernel process.
type KernelConfig struct {
	Name              string   `toml:"name"`
	LogLevel          string   `toml:"log_level"`
	PollInterval      string   `toml:"poll_interval"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	StdinTimeout      string   `toml:"stdin_timeout"`
	Banner            string   `toml:"banner"`
	AdminAddr         string   `toml:"admin_addr"`
	AdminToken        string   `toml:"admin_token"`
	AdminTLSCert      string   `toml:"admin_tls_cert"`
	AdminTLSKey       string   `toml:"admin_tls_key"`
	AdminTLSClientCA  string   `toml:"admin_tls_client_ca"`
	CorsOrigins       []string `toml:"cors_origins"`
	HistoryLimit      int      `toml:"history_limit"`
}

// KernelSettings is KernelConfig with durations resolved.
type KernelSettings struct {
	Name              string
	LogLevel          string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	StdinTimeout      time.Duration
	Banner            string
	AdminAddr         string
	AdminToken        string
	AdminTLS          AdminTLS
	CorsOrigins       []string
	HistoryLimit      int
}

// AdminTLS enables HTTPS on the admin surface when CertFile is set, and
// requires client certificates signed by ClientCAFile when that is set.
type AdminTLS struct {
	CertFile     string
	KeyFile      string
	ClientCAFile string
}

func (t AdminTLS) Enabled() bool { return t.CertFile != "" }

func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		Name:              "echokernel",
		LogLevel:          "info",
		PollInterval:      "50ms",
		HeartbeatInterval: "500ms",
		StdinTimeout:      "0s",
		HistoryLimit:      1000,
	}
}

// LoadKernelConfig reads path over DefaultKernelConfig.
func LoadKernelConfig(path string) (KernelSettings, error) {
	cfg := DefaultKernelConfig()
	if err := loadToml(path, &cfg); err != nil {
		return KernelSettings{}, err
	}
	return cfg.Resolve()
}

// Resolve validates cfg and parses its durations.
func (cfg KernelConfig) Resolve() (KernelSettings, error) {
	if err := ValidateKernelConfig(cfg); err != nil {
		return KernelSettings{}, err
	}
	out := KernelSettings{
		Name:         strings.TrimSpace(cfg.Name),
		LogLevel:     strings.TrimSpace(cfg.LogLevel),
		Banner:       cfg.Banner,
		AdminAddr:    strings.TrimSpace(cfg.AdminAddr),
		AdminToken:   cfg.AdminToken,
		CorsOrigins:  cfg.CorsOrigins,
		HistoryLimit: cfg.HistoryLimit,
	}
	out.AdminTLS = AdminTLS{
		CertFile:     strings.TrimSpace(cfg.AdminTLSCert),
		KeyFile:      strings.TrimSpace(cfg.AdminTLSKey),
		ClientCAFile: strings.TrimSpace(cfg.AdminTLSClientCA),
	}
	var err error
	if out.PollInterval, err = parseDuration("poll_interval", cfg.PollInterval); err != nil {
		return KernelSettings{}, err
	}
	if out.HeartbeatInterval, err = parseDuration("heartbeat_interval", cfg.HeartbeatInterval); err != nil {
		return KernelSettings{}, err
	}
	if out.StdinTimeout, err = parseDuration("stdin_timeout", cfg.StdinTimeout); err != nil {
		return KernelSettings{}, err
	}
	return out, nil
}

func ValidateKernelConfig(cfg KernelConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("kernel config missing name")
	}
	if cfg.HistoryLimit < 0 {
		return fmt.Errorf("kernel config history_limit must be >= 0")
	}
	if strings.TrimSpace(cfg.AdminToken) != "" && strings.TrimSpace(cfg.AdminAddr) == "" {
		return fmt.Errorf("kernel config admin_token set without admin_addr")
	}
	cert, key := strings.TrimSpace(cfg.AdminTLSCert), strings.TrimSpace(cfg.AdminTLSKey)
	if (cert == "") != (key == "") {
		return fmt.Errorf("kernel config admin_tls_cert and admin_tls_key must be set together")
	}
	if strings.TrimSpace(cfg.AdminTLSClientCA) != "" && cert == "" {
		return fmt.Errorf("kernel config admin_tls_client_ca requires admin_tls_cert")
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("parse %s: negative duration %s", key, d)
	}
	return d, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
