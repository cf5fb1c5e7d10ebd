package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"

	"periph.io/x/conn/v3/gpio/gpioreg"

	"nousim/internal/adapter/journal"
	"nousim/internal/adapter/remote"
	"nousim/internal/adapter/simbackend"
	"nousim/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

func doctorChecks(cfgPath string, cfgErr error) []Check {
	return []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Backend", Fn: checkBackend},
		{Name: "Gateway address", Fn: checkGatewayAddr},
		{Name: "Journal", Fn: checkJournal},
		{Name: "GPIO mirror", Fn: checkGPIOMirror},
		{Name: "Peripherals", Fn: checkPeripherals},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor(w io.Writer) error {
	cfgPath := configPath()

	// Some checks still run without a valid config.
	cfg, cfgErr := config.Load(cfgPath)

	fmt.Fprintln(w, "nousim doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range doctorChecks(cfgPath, cfgErr) {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func skipped() CheckResult {
	return CheckResult{Status: StatusWarn, Message: "skipped, config did not load"}
}

// checkConfigFile reports whether the config file exists and loads cleanly.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: cfgErr.Error(),
				Fix:     "Correct " + cfgPath + " or unset the offending NOUSIM_* variable",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: cfgPath + " not found, using defaults",
				Fix:     "Create " + cfgPath + " or pass --config PATH",
			}
		}
		return CheckResult{Status: StatusPass, Message: cfgPath}
	}
}

func checkBackend(cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	if cfg.Backend.Type != "remote" {
		return CheckResult{Status: StatusPass, Message: "in-memory register store"}
	}
	rc := cfg.Backend.Remote
	ctx, cancel := context.WithTimeout(context.Background(), rc.DialTimeout)
	defer cancel()
	client, err := remote.Dial(ctx, rc.URL, rc.Token, remote.Options{DialTimeout: rc.DialTimeout})
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Start the gateway at " + rc.URL + " and check backend.remote.token",
		}
	}
	client.Close()
	return CheckResult{Status: StatusPass, Message: "remote gateway reachable at " + rc.URL}
}

func checkGatewayAddr(cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	if !cfg.Gateway.Enabled {
		return CheckResult{Status: StatusPass, Message: "gateway disabled"}
	}
	ln, err := net.Listen("tcp", cfg.Gateway.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Gateway.Addr, err),
			Fix:     "Stop the other process or change gateway.addr",
		}
	}
	ln.Close()
	msg := cfg.Gateway.Addr + " is free"
	if cfg.Gateway.Auth.Type != "static" && !isLoopback(cfg.Gateway.Addr) {
		return CheckResult{
			Status:  StatusWarn,
			Message: msg + ", but the gateway accepts unauthenticated clients",
			Fix:     "Set gateway.auth.type: static with at least one token",
		}
	}
	return CheckResult{Status: StatusPass, Message: msg}
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func checkJournal(cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	if !cfg.Journal.Enabled {
		return CheckResult{Status: StatusPass, Message: "journal disabled"}
	}
	jr, err := journal.Open(cfg.Journal.Path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Make the directory of journal.path writable",
		}
	}
	jr.Close()
	return CheckResult{Status: StatusPass, Message: cfg.Journal.Path}
}

func checkGPIOMirror(cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	if !cfg.GPIO.Mirror {
		return CheckResult{Status: StatusPass, Message: "mirror disabled"}
	}
	if err := initHostGPIO(); err != nil {
		return CheckResult{Status: StatusWarn, Message: err.Error(), Fix: "Rebuild with -tags edge on the target board"}
	}
	var missing []string
	for _, p := range cfg.Peripherals {
		if p.Kind != "gpio" {
			continue
		}
		name := fmt.Sprintf("%s%d", cfg.GPIO.PinPrefix, p.Index)
		if gpioreg.ByName(name) == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "host pins not found: " + strings.Join(missing, ", "),
			Fix:     "Check gpio.pin_prefix against the board's pin names",
		}
	}
	return CheckResult{Status: StatusPass, Message: "host gpio drivers loaded"}
}

// checkPeripherals acquires the configured peripherals against a scratch
// in-memory store to catch conflicts before serve does.
func checkPeripherals(cfg *config.Config) CheckResult {
	if cfg == nil {
		return skipped()
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	handles, err := acquirePeripherals(simbackend.NewMemory(nil, log), cfg.Peripherals, log)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "Fix the peripherals section"}
	}
	releasePeripherals(handles, log)
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d peripheral(s) acquire cleanly", len(handles))}
}
