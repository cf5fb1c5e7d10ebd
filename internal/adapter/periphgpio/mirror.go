// Package periphgpio mirrors simulated NoU digital pins onto real GPIO lines
// through periph.io, so a bench rig can follow what the program does.
package periphgpio

import (
	"fmt"
	"io"
	"log/slog"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"

	"nousim/internal/domain"
)

const (
	gpioKind   = "NoUGPIO"
	valueField = "value"
)

// Mirror decorates a RegisterBackend. Writes to NoUGPIO[n].value are copied
// to the host pin named prefix+n, and reads of input pins come from the
// host pin. Pins the host does not know are simulated only.
type Mirror struct {
	next   domain.RegisterBackend
	prefix string
	lookup func(name string) gpio.PinIO
	logger *slog.Logger
}

var _ domain.RegisterBackend = (*Mirror)(nil)

// New wraps next. Host pins are looked up in gpioreg, so periph's host
// drivers must be initialised first for real hardware to show up.
func New(next domain.RegisterBackend, prefix string, logger *slog.Logger) *Mirror {
	if prefix == "" {
		prefix = "GPIO"
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Mirror{next: next, prefix: prefix, lookup: gpioreg.ByName, logger: logger}
}

// CreateDevice implements domain.RegisterBackend.
func (m *Mirror) CreateDevice(kind string, index int) (domain.SimDevice, error) {
	dev, err := m.next.CreateDevice(kind, index)
	if err != nil || kind != gpioKind {
		return dev, err
	}
	name := fmt.Sprintf("%s%d", m.prefix, index)
	pin := m.lookup(name)
	if pin == nil {
		m.logger.Debug("no host pin, simulating only", "device", dev.Name(), "pin", name)
		return dev, nil
	}
	return &mirroredDevice{SimDevice: dev, pin: pin, logger: m.logger}, nil
}

type mirroredDevice struct {
	domain.SimDevice
	pin    gpio.PinIO
	logger *slog.Logger
}

func (d *mirroredDevice) CreateInt(name string, dir domain.Direction, initial int) (domain.IntField, error) {
	f, err := d.SimDevice.CreateInt(name, dir, initial)
	if err != nil || name != valueField {
		return f, err
	}
	if err := d.configure(dir, initial); err != nil {
		// The simulated register is already live; the pin just isn't mirrored.
		d.logger.Warn("configure host pin", "pin", d.pin.Name(), "direction", dir.String(), "error", err)
		return f, nil
	}
	d.logger.Info("gpio mirrored to host pin", "device", d.Name(), "pin", d.pin.Name(), "direction", dir.String())
	return &mirroredField{IntField: f, pin: d.pin, dir: dir}, nil
}

func (d *mirroredDevice) configure(dir domain.Direction, initial int) error {
	switch dir {
	case domain.DirectionOutput:
		return d.pin.Out(level(initial))
	case domain.DirectionBidir:
		return d.pin.In(gpio.PullUp, gpio.NoEdge)
	default:
		return d.pin.In(gpio.PullNoChange, gpio.NoEdge)
	}
}

type mirroredField struct {
	domain.IntField
	pin gpio.PinIO
	dir domain.Direction
}

// Get reads the host pin for input registers and the simulated register
// otherwise.
func (f *mirroredField) Get() (int, error) {
	if f.dir != domain.DirectionInput {
		return f.IntField.Get()
	}
	if _, err := f.IntField.Get(); err != nil {
		return 0, err
	}
	if f.pin.Read() == gpio.High {
		return 1, nil
	}
	return 0, nil
}

// Set drives the host pin, then writes the simulated register. A pin that
// cannot be driven leaves the register untouched, and a rejected register
// write puts the pin back where it was.
func (f *mirroredField) Set(v int) error {
	prev, err := f.IntField.Get()
	if err != nil {
		return err
	}
	if err := f.pin.Out(level(v)); err != nil {
		return domain.NewDomainError("periphgpio.Set", domain.ErrResourceUnavailable,
			fmt.Sprintf("drive %s: %v", f.pin.Name(), err))
	}
	if err := f.IntField.Set(v); err != nil {
		_ = f.pin.Out(level(prev))
		return err
	}
	return nil
}

func level(v int) gpio.Level {
	if v != 0 {
		return gpio.High
	}
	return gpio.Low
}
