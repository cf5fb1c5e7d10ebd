package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"nousim/internal/adapter/gateway"
	"nousim/internal/adapter/journal"
	"nousim/internal/infra/config"
	"nousim/internal/infra/logger"
	"nousim/internal/infra/tracer"
	"nousim/internal/usecase/eventbus"
)

func runServe() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	// 3. Event bus
	bus := eventbus.New(logger.Component(log, "eventbus"))
	defer bus.Close()

	// 4. Backend
	backend, err := initBackend(ctx, cfg, bus, log)
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	defer backend.Close()

	// 5. Journal
	jr, err := initJournal(ctx, cfg.Journal, bus, log)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if jr != nil {
		defer jr.Close()
	}

	// 6. Gateway
	var srv *gateway.Server
	if cfg.Gateway.Enabled {
		srv = initGateway(cfg.Gateway, backend, jr, bus, log)
		go func() {
			if err := srv.Start(ctx); err != nil {
				log.Error("gateway server error", "error", err)
				cancel()
			}
		}()
		if cfg.Gateway.MDNS.Enabled {
			go announceGateway(ctx, srv, cfg.Gateway, log)
		}
	}

	// 7. Peripherals
	handles, err := acquirePeripherals(backend.Backend, cfg.Peripherals, logger.Component(log, "peripheral"))
	if err != nil {
		return fmt.Errorf("peripherals: %w", err)
	}

	log.Info("nousim starting",
		"version", version,
		"backend", cfg.Backend.Type,
		"gateway", cfg.Gateway.Enabled,
		"journal", jr != nil,
		"peripherals", len(handles),
	)

	<-ctx.Done()
	log.Info("shutting down")

	releasePeripherals(handles, log)
	if srv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Stop(shutdownCtx); err != nil {
			log.Error("gateway shutdown error", "error", err)
		}
	}
	// Drain pending events into the journal before it closes.
	bus.Close()
	return nil
}

// initJournal opens the register journal and starts its retention job.
// It returns nil when the journal is disabled. An empty retention schedule
// or a zero max_age keeps events forever.
func initJournal(ctx context.Context, cfg config.JournalConfig, bus *eventbus.Bus, log *slog.Logger) (*journal.Journal, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	jr, err := journal.Open(cfg.Path, logger.Component(log, "journal"))
	if err != nil {
		return nil, err
	}
	jr.Attach(bus)
	if cfg.Retention != "" && cfg.MaxAge > 0 {
		if err := jr.StartRetention(ctx, cfg.Retention, cfg.MaxAge); err != nil {
			jr.Close()
			return nil, err
		}
	}
	log.Info("journal enabled", "path", cfg.Path, "max_age", cfg.MaxAge, "retention", cfg.Retention)
	return jr, nil
}

func initGateway(cfg config.GatewayConfig, backend *backendComponents, jr *journal.Journal, bus *eventbus.Bus, log *slog.Logger) *gateway.Server {
	var auth gateway.Authenticator = gateway.OpenAuth{}
	if cfg.Auth.Type == "static" {
		entries := make([]gateway.TokenEntry, 0, len(cfg.Auth.Tokens))
		for _, t := range cfg.Auth.Tokens {
			entries = append(entries, gateway.TokenEntry{Token: t.Token, Name: t.Name})
		}
		auth = gateway.NewStaticTokenAuth(entries)
	}

	gwLog := logger.Component(log, "gateway")
	srv := gateway.NewServer(bus, auth, cfg.Addr, gwLog,
		gateway.WithPath(cfg.Path),
		gateway.WithRateLimit(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
	)

	deps := gateway.HandlerDeps{Backend: backend.Backend, Logger: gwLog}
	if backend.Memory != nil {
		deps.Sim = backend.Memory
	}
	if jr != nil {
		deps.History = jr
	}
	gateway.RegisterDefaultHandlers(srv, deps)
	gateway.RegisterRESTHandlers(srv, deps, bus, version)
	return srv
}

// announceGateway advertises the gateway over mDNS once it has bound a port.
func announceGateway(ctx context.Context, srv *gateway.Server, cfg config.GatewayConfig, log *slog.Logger) {
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	_, portStr, err := net.SplitHostPort(srv.BoundAddr())
	if err != nil {
		log.Warn("mdns: bad bound address", "addr", srv.BoundAddr(), "error", err)
		return
	}
	port, _ := strconv.Atoi(portStr)
	if err := gateway.Announce(ctx, cfg.MDNS.Instance, port, cfg.Path, version, log); err != nil {
		log.Warn("mdns announce failed", "error", err)
	}
}
