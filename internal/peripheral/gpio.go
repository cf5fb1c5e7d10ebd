package peripheral

import (
	"fmt"
	"strings"

	"nousim/internal/domain"
)

// Mode is the access mode of a digital pin, as seen from the simulator.
// The program can always read the pin, whatever the mode.
type Mode uint8

const (
	// ReadOnly pins are driven by the simulator (Arduino INPUT).
	ReadOnly Mode = iota
	// WriteOnly pins are driven by the program (Arduino OUTPUT).
	WriteOnly
	// ReadWrite pins may be driven by either side (Arduino INPUT_PULLUP).
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read_only"
	case WriteOnly:
		return "write_only"
	case ReadWrite:
		return "read_write"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Direction maps the mode onto the direction of the pin's value register.
func (m Mode) Direction() domain.Direction {
	switch m {
	case ReadOnly:
		return domain.DirectionInput
	case WriteOnly:
		return domain.DirectionOutput
	default:
		return domain.DirectionBidir
	}
}

func (m Mode) valid() bool { return m <= ReadWrite }

// ParseMode accepts the String form of a mode ("read_only", "write_only",
// "read_write"); hyphens are treated as underscores.
func ParseMode(s string) (Mode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "read_only":
		return ReadOnly, nil
	case "write_only":
		return WriteOnly, nil
	case "read_write":
		return ReadWrite, nil
	default:
		return 0, domain.NewDomainError("ParseMode", domain.ErrInvalidArgument, fmt.Sprintf("unknown pin mode %q", s))
	}
}

// DigitalPin is a handle to one simulated GPIO pin.
type DigitalPin struct {
	pin  int
	mode Mode
	ch   *channel[int]
}

// NewDigitalPin claims pin in the given mode. The mode is announced to the
// backend through a short-lived GPIOPrep device before the handle is returned.
// Creating two live handles for the same pin is a caller error.
func NewDigitalPin(backend domain.RegisterBackend, pin int, mode Mode, opts ...Option) (*DigitalPin, error) {
	if pin < 0 {
		return nil, domain.NewDomainError("DigitalPin.New", domain.ErrInvalidArgument, fmt.Sprintf("pin %d is negative", pin))
	}
	if !mode.valid() {
		return nil, domain.NewDomainError("DigitalPin.New", domain.ErrInvalidArgument, mode.String())
	}
	o := buildOptions(opts)

	ch, err := acquire(backend, KindGPIO, pin, "value",
		intRegister("value", mode.Direction(), 0), digitalPolicy(pin, mode), o)
	if err != nil {
		return nil, domain.WrapOp("DigitalPin.New", err)
	}

	if err := announceMode(backend, pin, mode); err != nil {
		if cerr := ch.close("DigitalPin.New"); cerr != nil {
			o.logger.Warn("release after failed mode announcement", "pin", pin, "error", cerr)
		}
		return nil, domain.WrapOp("DigitalPin.New", err)
	}
	o.logger.Debug("gpio mode announced", "pin", pin, "mode", mode.String())

	return &DigitalPin{pin: pin, mode: mode, ch: ch}, nil
}

func digitalPolicy(pin int, mode Mode) valuePolicy[int] {
	return valuePolicy[int]{
		validate: func(v int) error {
			bad := v != 0 && v != 1
			if mode == ReadOnly {
				if bad {
					return fmt.Errorf("pin %d is read-only, value %d not in {0,1}: %w: %w",
						pin, v, domain.ErrUnsupportedOperation, domain.ErrInvalidArgument)
				}
				return fmt.Errorf("pin %d is read-only: %w", pin, domain.ErrUnsupportedOperation)
			}
			if bad {
				return fmt.Errorf("value %d not in {0,1}: %w", v, domain.ErrInvalidArgument)
			}
			return nil
		},
	}
}

// announceMode publishes the mode ordinal on GPIOPrep[pin].mode and releases
// the prep device again.
func announceMode(backend domain.RegisterBackend, pin int, mode Mode) (err error) {
	name := domain.DeviceName(KindGPIOPrep, pin)
	prep, err := backend.CreateDevice(KindGPIOPrep, pin)
	if err != nil {
		return unavailable("create device "+name, err)
	}
	defer func() {
		if cerr := prep.Close(); cerr != nil && err == nil {
			err = unavailable("close device "+name, cerr)
		}
	}()

	f, err := prep.CreateInt("mode", domain.DirectionOutput, 0)
	if err != nil {
		return unavailable("create field "+name+".mode", err)
	}
	if err := f.Set(int(mode)); err != nil {
		return unavailable("announce mode on "+name, err)
	}
	return nil
}

// Write drives the pin to v, which must be 0 or 1. Read-only pins reject every
// write with ErrUnsupportedOperation. Every accepted write reaches the
// backend, even when the value is unchanged.
func (p *DigitalPin) Write(v int) error {
	return p.ch.set("DigitalPin.Write", v)
}

// Read returns the pin's current value: the last written value for program
// driven pins, the simulator's value for input pins.
func (p *DigitalPin) Read() (int, error) {
	return p.ch.get("DigitalPin.Read")
}

// Close releases the pin. Closing twice is a no-op.
func (p *DigitalPin) Close() error {
	return p.ch.close("DigitalPin.Close")
}

// Pin returns the pin number.
func (p *DigitalPin) Pin() int { return p.pin }

// Mode returns the access mode fixed at construction.
func (p *DigitalPin) Mode() Mode { return p.mode }
