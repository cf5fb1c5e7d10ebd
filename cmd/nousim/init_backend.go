package main

import (
	"context"
	"fmt"
	"log/slog"

	"nousim/internal/adapter/periphgpio"
	"nousim/internal/adapter/remote"
	"nousim/internal/adapter/simbackend"
	"nousim/internal/domain"
	"nousim/internal/infra/config"
	"nousim/internal/infra/logger"
)

// backendComponents is the program-side register backend plus, for the
// memory backend, the simulator-side view of the same store.
type backendComponents struct {
	Backend domain.RegisterBackend
	Memory  *simbackend.Memory // nil for remote backends
	Remote  *remote.Client     // nil for memory backends
}

func (b *backendComponents) Close() error {
	if b.Remote != nil {
		return b.Remote.Close()
	}
	return nil
}

// initBackend builds the configured backend and stacks the optional GPIO
// mirror and tracing decorators on top of it.
func initBackend(ctx context.Context, cfg *config.Config, bus domain.EventBus, log *slog.Logger) (*backendComponents, error) {
	comp := &backendComponents{}

	switch cfg.Backend.Type {
	case "remote":
		rc := cfg.Backend.Remote
		client, err := remote.Dial(ctx, rc.URL, rc.Token, remote.Options{
			DialTimeout: rc.DialTimeout,
			CallTimeout: rc.CallTimeout,
			MaxFailures: rc.Breaker.MaxFailures,
			OpenTimeout: rc.Breaker.OpenTimeout,
			OnEvent: func(ctx context.Context, e domain.Event) {
				if bus != nil {
					bus.Publish(ctx, e)
				}
			},
			Logger: logger.Component(log, "remote"),
		})
		if err != nil {
			return nil, fmt.Errorf("remote backend %s: %w", rc.URL, err)
		}
		comp.Remote = client
		comp.Backend = client
	case "memory", "":
		comp.Memory = simbackend.NewMemory(bus, logger.Component(log, "simbackend"))
		comp.Backend = comp.Memory
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}

	if cfg.GPIO.Mirror {
		if err := initHostGPIO(); err != nil {
			log.Warn("host gpio unavailable, pins are simulated only", "error", err)
		} else {
			comp.Backend = periphgpio.New(comp.Backend, cfg.GPIO.PinPrefix, logger.Component(log, "periphgpio"))
			log.Info("gpio mirror enabled", "prefix", cfg.GPIO.PinPrefix)
		}
	}
	if cfg.Backend.Traced {
		comp.Backend = simbackend.NewTraced(comp.Backend)
	}
	return comp, nil
}
