package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nousim/internal/domain"
)

// Config is the top-level nousim configuration.
type Config struct {
	Backend     BackendConfig      `yaml:"backend"`
	Gateway     GatewayConfig      `yaml:"gateway"`
	Journal     JournalConfig      `yaml:"journal"`
	GPIO        GPIOConfig         `yaml:"gpio"`
	Logger      LoggerConfig       `yaml:"logger"`
	Tracer      TracerConfig       `yaml:"tracer"`
	Peripherals []PeripheralConfig `yaml:"peripherals,omitempty"`
}

// BackendConfig selects where register devices live.
type BackendConfig struct {
	Type   string       `yaml:"type"` // "memory" or "remote"
	Traced bool         `yaml:"traced"`
	Remote RemoteConfig `yaml:"remote"`
}

// RemoteConfig holds settings for a backend served by another nousim gateway.
type RemoteConfig struct {
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig tunes the circuit breaker in front of a remote backend.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"` // consecutive failures before opening
	OpenTimeout time.Duration `yaml:"open_timeout"` // time spent open before a half-open probe
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Addr      string          `yaml:"addr"`
	Path      string          `yaml:"path"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	MDNS      MDNSConfig      `yaml:"mdns"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// RateLimitConfig is the per-connection token bucket. PerSecond <= 0 disables it.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// MDNSConfig controls LAN advertisement of the gateway.
type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
}

// JournalConfig holds the register change journal settings.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	MaxAge    time.Duration `yaml:"max_age"`
	Retention string        `yaml:"retention"` // cron schedule for pruning
}

// GPIOConfig controls mirroring of NoUGPIO registers onto host pins.
type GPIOConfig struct {
	Mirror    bool   `yaml:"mirror"`
	PinPrefix string `yaml:"pin_prefix"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	ServiceName string `yaml:"service_name"`
}

// PeripheralConfig declares one handle the CLI acquires at startup.
type PeripheralConfig struct {
	Kind     string   `yaml:"kind"` // "gpio", "motor" or "servo"
	Index    int      `yaml:"index"`
	Mode     string   `yaml:"mode,omitempty"`     // gpio only
	Inverted bool     `yaml:"inverted,omitempty"` // motor only
	Initial  *float64 `yaml:"initial,omitempty"`
}

// defaultDataDir returns the persistent data directory under $HOME/.nousim.
// Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".nousim")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Backend: BackendConfig{
			Type: "memory",
			Remote: RemoteConfig{
				DialTimeout: 5 * time.Second,
				CallTimeout: 2 * time.Second,
				Breaker: BreakerConfig{
					MaxFailures: 5,
					OpenTimeout: 10 * time.Second,
				},
			},
		},
		Gateway: GatewayConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7350",
			Path:    "/ws",
			RateLimit: RateLimitConfig{
				PerSecond: 200,
				Burst:     50,
			},
			MDNS: MDNSConfig{Instance: "nousim"},
		},
		Journal: JournalConfig{
			Enabled:   false,
			Path:      filepath.Join(defaultDataDir(), "journal.db"),
			MaxAge:    24 * time.Hour,
			Retention: "@hourly",
		},
		GPIO: GPIOConfig{
			PinPrefix: "GPIO",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			ServiceName: "nousim",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, decrypts secrets
// and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: read: %w", domain.ErrConfigLoad, err)
		}
	} else {
		if err := validatePermissions(path); err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse: %w", domain.ErrConfigLoad, err)
		}
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("NOUSIM_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("%w: decrypt secrets: %w", domain.ErrConfigLoad, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps NOUSIM_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NOUSIM_BACKEND_TYPE"); v != "" {
		cfg.Backend.Type = v
	}
	if v := os.Getenv("NOUSIM_BACKEND_TRACED"); v != "" {
		cfg.Backend.Traced = v == "true"
	}
	if v := os.Getenv("NOUSIM_REMOTE_URL"); v != "" {
		cfg.Backend.Remote.URL = v
	}
	if v := os.Getenv("NOUSIM_REMOTE_TOKEN"); v != "" {
		cfg.Backend.Remote.Token = v
	}
	if v := os.Getenv("NOUSIM_REMOTE_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.Remote.CallTimeout = d
		}
	}
	if v := os.Getenv("NOUSIM_GATEWAY_ENABLED"); v != "" {
		cfg.Gateway.Enabled = v == "true"
	}
	if v := os.Getenv("NOUSIM_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("NOUSIM_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{Name: "env", Token: v})
	}
	if v := os.Getenv("NOUSIM_GATEWAY_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Gateway.RateLimit.PerSecond = f
		}
	}
	if v := os.Getenv("NOUSIM_GATEWAY_MDNS"); v != "" {
		cfg.Gateway.MDNS.Enabled = v == "true"
	}
	if v := os.Getenv("NOUSIM_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = v == "true"
	}
	if v := os.Getenv("NOUSIM_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
	if v := os.Getenv("NOUSIM_GPIO_MIRROR"); v != "" {
		cfg.GPIO.Mirror = v == "true"
	}
	if v := os.Getenv("NOUSIM_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("NOUSIM_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("NOUSIM_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("NOUSIM_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}

func hasSecretPrefix(s string) bool { return strings.HasPrefix(s, secretPrefix) }
