package main

import (
	"errors"
	"fmt"
	"log/slog"

	"nousim/internal/domain"
	"nousim/internal/infra/config"
	"nousim/internal/peripheral"
)

// handle is one acquired peripheral as seen by the CLI.
type handle struct {
	label string
	read  func() (float64, error)
	close func() error
}

// acquirePeripherals claims every configured peripheral and applies its
// initial value. On failure everything already acquired is released.
func acquirePeripherals(backend domain.RegisterBackend, entries []config.PeripheralConfig, log *slog.Logger) ([]handle, error) {
	claims := peripheral.NewClaims()
	opts := []peripheral.Option{peripheral.WithClaims(claims), peripheral.WithLogger(log)}

	var out []handle
	for _, entry := range entries {
		h, err := acquireOne(backend, entry, opts)
		if err != nil {
			releasePeripherals(out, log)
			return nil, fmt.Errorf("%s %d: %w", entry.Kind, entry.Index, err)
		}
		log.Info("peripheral ready", "peripheral", h.label)
		out = append(out, h)
	}
	return out, nil
}

func acquireOne(backend domain.RegisterBackend, entry config.PeripheralConfig, opts []peripheral.Option) (handle, error) {
	switch entry.Kind {
	case "gpio":
		mode, err := peripheral.ParseMode(entry.Mode)
		if err != nil {
			return handle{}, err
		}
		pin, err := peripheral.NewDigitalPin(backend, entry.Index, mode, opts...)
		if err != nil {
			return handle{}, err
		}
		if entry.Initial != nil {
			if err := pin.Write(int(*entry.Initial)); err != nil {
				return handle{}, errors.Join(err, pin.Close())
			}
		}
		return handle{
			label: fmt.Sprintf("gpio %d (%s)", entry.Index, mode),
			read: func() (float64, error) {
				v, err := pin.Read()
				return float64(v), err
			},
			close: pin.Close,
		}, nil

	case "motor":
		m, err := peripheral.NewMotor(backend, entry.Index, opts...)
		if err != nil {
			return handle{}, err
		}
		m.SetInverted(entry.Inverted)
		if entry.Initial != nil {
			if err := m.Set(*entry.Initial); err != nil {
				return handle{}, errors.Join(err, m.Close())
			}
		}
		label := fmt.Sprintf("motor %d", entry.Index)
		if entry.Inverted {
			label += " (inverted)"
		}
		return handle{label: label, read: m.Get, close: m.Close}, nil

	case "servo":
		s, err := peripheral.NewServo(backend, entry.Index, opts...)
		if err != nil {
			return handle{}, err
		}
		if entry.Initial != nil {
			if err := s.SetAngle(*entry.Initial); err != nil {
				return handle{}, errors.Join(err, s.Close())
			}
		}
		return handle{label: fmt.Sprintf("servo %d", entry.Index), read: s.Angle, close: s.Close}, nil
	}
	return handle{}, domain.NewDomainError("acquirePeripherals", domain.ErrInvalidArgument,
		fmt.Sprintf("unknown peripheral kind %q", entry.Kind))
}

// releasePeripherals closes handles in reverse acquisition order.
func releasePeripherals(hs []handle, log *slog.Logger) {
	for i := len(hs) - 1; i >= 0; i-- {
		if err := hs[i].close(); err != nil {
			log.Warn("release peripheral", "peripheral", hs[i].label, "error", err)
		}
	}
}
