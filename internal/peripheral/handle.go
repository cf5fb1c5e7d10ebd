// Package peripheral implements typed handles for simulated NoU peripherals:
// digital pins, motor channels and servo channels. Each handle owns one
// backend device from construction until Close and validates every value
// before it reaches the backend.
//
// Handles are not safe for concurrent use; a handle has exactly one owner.
package peripheral

import (
	"errors"
	"fmt"
	"log/slog"

	"nousim/internal/domain"
)

// Peripheral kinds. Each kind is the backend namespace prefix for its devices.
const (
	KindGPIO     = "NoUGPIO"
	KindGPIOPrep = "GPIOPrep"
	KindMotor    = "NoUMotor"
	KindServo    = "NoUServo"
)

type number interface {
	~int | ~float64
}

// register is the accessor shape shared by domain.IntField and domain.DoubleField.
type register[T number] interface {
	Get() (T, error)
	Set(v T) error
}

// valuePolicy describes the value domain of a channel. A write passes
// validate (rejects with an error), then accept (rejects silently), then
// transform, and finally the dedupe check against the stored value.
type valuePolicy[T number] struct {
	validate  func(v T) error
	accept    func(v T) bool
	transform func(v T) T
	dedupe    bool
}

// channel is one claimed backend device with a single typed register.
type channel[T number] struct {
	name    string
	field   string
	device  domain.SimDevice
	reg     register[T]
	policy  valuePolicy[T]
	release func()
	logger  *slog.Logger
	closed  bool
}

// acquire claims device (kind, index) on the backend and creates its register
// with create. Anything claimed before a failure is released again.
func acquire[T number](
	backend domain.RegisterBackend,
	kind string,
	index int,
	field string,
	create func(domain.SimDevice) (register[T], error),
	policy valuePolicy[T],
	o options,
) (*channel[T], error) {
	name := domain.DeviceName(kind, index)
	if backend == nil {
		return nil, domain.NewDomainError("peripheral.acquire", domain.ErrResourceUnavailable, name+": no backend")
	}

	release, err := o.claims.claim(kind, index)
	if err != nil {
		return nil, err
	}

	device, err := backend.CreateDevice(kind, index)
	if err != nil {
		release()
		return nil, unavailable("create device "+name, err)
	}

	reg, err := create(device)
	if err != nil {
		if cerr := device.Close(); cerr != nil {
			o.logger.Warn("release after failed field create", "device", name, "error", cerr)
		}
		release()
		return nil, unavailable(fmt.Sprintf("create field %s.%s", name, field), err)
	}

	o.logger.Debug("peripheral acquired", "device", name, "field", field)
	return &channel[T]{
		name:    name,
		field:   field,
		device:  device,
		reg:     reg,
		policy:  policy,
		release: release,
		logger:  o.logger,
	}, nil
}

// unavailable wraps a backend failure so it always matches ErrResourceUnavailable.
func unavailable(op string, err error) error {
	if errors.Is(err, domain.ErrResourceUnavailable) {
		return domain.WrapOp(op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrResourceUnavailable, err)
}

func intRegister(name string, dir domain.Direction, initial int) func(domain.SimDevice) (register[int], error) {
	return func(d domain.SimDevice) (register[int], error) {
		f, err := d.CreateInt(name, dir, initial)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

func doubleRegister(name string, dir domain.Direction, initial float64) func(domain.SimDevice) (register[float64], error) {
	return func(d domain.SimDevice) (register[float64], error) {
		f, err := d.CreateDouble(name, dir, initial)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

func (c *channel[T]) get(op string) (T, error) {
	if c.closed {
		var zero T
		return zero, domain.NewDomainError(op, domain.ErrClosed, c.name)
	}
	v, err := c.reg.Get()
	if err != nil {
		var zero T
		return zero, domain.WrapOp(op, err)
	}
	return v, nil
}

func (c *channel[T]) set(op string, v T) error {
	if c.closed {
		return domain.NewDomainError(op, domain.ErrClosed, c.name)
	}
	p := c.policy
	if p.validate != nil {
		if err := p.validate(v); err != nil {
			return domain.WrapOp(op, err)
		}
	}
	if p.accept != nil && !p.accept(v) {
		return nil
	}
	if p.transform != nil {
		v = p.transform(v)
	}
	if p.dedupe {
		cur, err := c.reg.Get()
		if err != nil {
			return domain.WrapOp(op, err)
		}
		if cur == v {
			return nil
		}
	}
	if err := c.reg.Set(v); err != nil {
		return domain.WrapOp(op, err)
	}
	c.logger.Debug("register write", "device", c.name, "field", c.field, "value", v)
	return nil
}

// close releases the device. It is idempotent; references are dropped even
// when the backend reports an error.
func (c *channel[T]) close(op string) error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.device.Close()
	c.release()
	c.device = nil
	c.reg = nil
	if err != nil {
		return domain.WrapOp(op, err)
	}
	c.logger.Debug("peripheral released", "device", c.name)
	return nil
}
