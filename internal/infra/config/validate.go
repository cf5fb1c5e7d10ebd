package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"nousim/internal/peripheral"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateBackend(cfg, ve)
	validateGateway(cfg, ve)
	validateJournal(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validatePeripherals(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateBackend(cfg *Config, ve *ValidationError) {
	switch cfg.Backend.Type {
	case "memory":
	case "remote":
		r := cfg.Backend.Remote
		if r.URL == "" {
			ve.Add("backend.remote.url is required when backend.type is remote")
		} else if u, err := url.Parse(r.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			ve.Add("backend.remote.url %q must be a ws:// or wss:// URL", r.URL)
		}
		if r.CallTimeout <= 0 {
			ve.Add("backend.remote.call_timeout must be > 0")
		}
		if r.DialTimeout <= 0 {
			ve.Add("backend.remote.dial_timeout must be > 0")
		}
		if r.Breaker.MaxFailures == 0 {
			ve.Add("backend.remote.breaker.max_failures must be > 0")
		}
	default:
		ve.Add("backend.type %q is not supported (want memory or remote)", cfg.Backend.Type)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Backend.Type != "memory" {
		ve.Add("gateway requires backend.type memory")
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	if !strings.HasPrefix(cfg.Gateway.Path, "/") {
		ve.Add("gateway.path %q must start with /", cfg.Gateway.Path)
	}
	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens must not be empty for static auth")
		}
		for i, tok := range cfg.Gateway.Auth.Tokens {
			if tok.Token == "" {
				ve.Add("gateway.auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("gateway.auth.type %q is not supported", cfg.Gateway.Auth.Type)
	}
	if rl := cfg.Gateway.RateLimit; rl.PerSecond > 0 && rl.Burst <= 0 {
		ve.Add("gateway.rate_limit.burst must be > 0 when per_second is set")
	}
}

func validateJournal(cfg *Config, ve *ValidationError) {
	if !cfg.Journal.Enabled {
		return
	}
	if cfg.Journal.Path == "" {
		ve.Add("journal.path is required when journal is enabled")
	}
	if cfg.Journal.MaxAge < 0 {
		ve.Add("journal.max_age must be >= 0")
	}
	if cfg.Journal.Retention != "" {
		if _, err := cron.ParseStandard(cfg.Journal.Retention); err != nil {
			ve.Add("journal.retention %q is not a valid cron schedule: %v", cfg.Journal.Retention, err)
		}
	}
}

var validLevels = map[string]bool{"": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not supported", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is not supported (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}

func validatePeripherals(cfg *Config, ve *ValidationError) {
	seen := make(map[string]bool)
	for i, p := range cfg.Peripherals {
		key := fmt.Sprintf("%s/%d", p.Kind, p.Index)
		if seen[key] {
			ve.Add("peripherals[%d]: %s %d declared twice", i, p.Kind, p.Index)
		}
		seen[key] = true

		switch p.Kind {
		case "gpio":
			if p.Index < 0 {
				ve.Add("peripherals[%d]: gpio pin must be >= 0", i)
			}
			mode, err := peripheral.ParseMode(p.Mode)
			if err != nil {
				ve.Add("peripherals[%d]: mode %q is not read_only, write_only or read_write", i, p.Mode)
			} else if p.Initial != nil && mode == peripheral.ReadOnly {
				ve.Add("peripherals[%d]: read_only pins cannot have an initial value", i)
			}
			if p.Initial != nil && *p.Initial != 0 && *p.Initial != 1 {
				ve.Add("peripherals[%d]: gpio initial must be 0 or 1", i)
			}
		case "motor":
			if p.Index < peripheral.MinMotorPort || p.Index > peripheral.MaxMotorPort {
				ve.Add("peripherals[%d]: motor port must be %d-%d", i, peripheral.MinMotorPort, peripheral.MaxMotorPort)
			}
			if p.Initial != nil && (*p.Initial < -1 || *p.Initial > 1) {
				ve.Add("peripherals[%d]: motor initial must be in [-1, 1]", i)
			}
		case "servo":
			if p.Index < peripheral.MinServoPort || p.Index > peripheral.MaxServoPort {
				ve.Add("peripherals[%d]: servo port must be %d-%d", i, peripheral.MinServoPort, peripheral.MaxServoPort)
			}
			if p.Initial != nil && (*p.Initial < peripheral.MinAngle || *p.Initial > peripheral.MaxAngle) {
				ve.Add("peripherals[%d]: servo initial must be in [0, 180]", i)
			}
		default:
			ve.Add("peripherals[%d]: kind %q is not gpio, motor or servo", i, p.Kind)
		}
	}
}
