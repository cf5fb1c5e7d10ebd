package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"nousim/internal/adapter/gateway"
	"nousim/internal/infra/config"
	"nousim/internal/infra/logger"
	"nousim/internal/usecase/eventbus"
)

// runProbe acquires the configured peripherals once, prints their current
// values and releases them again.
func runProbe(w io.Writer) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return probe(ctx, cfg, w, log)
}

func probe(ctx context.Context, cfg *config.Config, w io.Writer, log *slog.Logger) error {
	bus := eventbus.New(log)
	defer bus.Close()

	backend, err := initBackend(ctx, cfg, bus, log)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	defer backend.Close()

	handles, err := acquirePeripherals(backend.Backend, cfg.Peripherals, log)
	if err != nil {
		return err
	}
	defer releasePeripherals(handles, log)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PERIPHERAL\tVALUE")
	for _, h := range handles {
		v, err := h.read()
		if err != nil {
			fmt.Fprintf(tw, "%s\terror: %v\n", h.label, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%g\n", h.label, v)
	}
	if backend.Memory != nil {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "REGISTER\tKIND\tDIRECTION\tVALUE")
		for _, dev := range backend.Memory.Snapshot() {
			for _, f := range dev.Fields {
				fmt.Fprintf(tw, "%s.%s\t%s\t%s\t%g\n", dev.Name, f.Name, f.Kind, f.Direction, f.Value)
			}
		}
	}
	return tw.Flush()
}

// runDiscover lists gateways advertised over mDNS.
func runDiscover(w io.Writer) error {
	timeout := 3 * time.Second
	if v, ok := flagValue("--timeout"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}
		timeout = d
	}
	urls, err := gateway.Discover(context.Background(), timeout)
	if err != nil {
		return err
	}
	if len(urls) == 0 {
		fmt.Fprintln(w, "no gateways found (mdns support requires -tags mdns)")
		return nil
	}
	for _, u := range urls {
		fmt.Fprintln(w, u)
	}
	return nil
}
