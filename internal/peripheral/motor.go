package peripheral

import (
	"fmt"
	"math"

	"nousim/internal/domain"
)

// Motor port range on the NoU board.
const (
	MinMotorPort = 1
	MaxMotorPort = 6
)

// MotorController is the generic speed-controller capability.
type MotorController interface {
	Set(speed float64) error
	Get() (float64, error)
	SetInverted(inverted bool)
	Inverted() bool
	Disable() error
	StopMotor() error
}

// Motor is a handle to one motor-controller channel. Speeds are in
// [-1.0, 1.0] and stored rounded to two decimals.
type Motor struct {
	port     int
	inverted bool
	ch       *channel[float64]
}

var _ MotorController = (*Motor)(nil)

// NewMotor claims motor port (1-6).
func NewMotor(backend domain.RegisterBackend, port int, opts ...Option) (*Motor, error) {
	if port < MinMotorPort || port > MaxMotorPort {
		return nil, domain.NewDomainError("Motor.New", domain.ErrInvalidArgument,
			fmt.Sprintf("port %d outside %d-%d", port, MinMotorPort, MaxMotorPort))
	}
	m := &Motor{port: port}
	policy := valuePolicy[float64]{
		accept: func(v float64) bool { return v >= -1 && v <= 1 },
		transform: func(v float64) float64 {
			if m.inverted {
				v = -v
			}
			return roundHundredths(v)
		},
		dedupe: true,
	}
	ch, err := acquire(backend, KindMotor, port, "speed",
		doubleRegister("speed", domain.DirectionOutput, 0), policy, buildOptions(opts))
	if err != nil {
		return nil, domain.WrapOp("Motor.New", err)
	}
	m.ch = ch
	return m, nil
}

// roundHundredths rounds half away from zero to two decimals and folds -0 into 0.
func roundHundredths(v float64) float64 {
	r := math.Round(v*100) / 100
	if r == 0 {
		return 0
	}
	return r
}

// Set requests speed. Values outside [-1.0, 1.0] are ignored without error.
// The value is negated when the motor is inverted, rounded to two decimals,
// and not written when it equals the stored speed.
func (m *Motor) Set(speed float64) error {
	return m.ch.set("Motor.Set", speed)
}

// Get returns the stored speed.
func (m *Motor) Get() (float64, error) {
	return m.ch.get("Motor.Get")
}

// SetInverted changes the sign applied to future Set calls.
func (m *Motor) SetInverted(inverted bool) { m.inverted = inverted }

// Inverted reports whether Set negates its input.
func (m *Motor) Inverted() bool { return m.inverted }

// StopMotor sets the speed to 0. It does not release the channel; see Disable.
func (m *Motor) StopMotor() error {
	return m.Set(0)
}

// Disable releases the channel. The handle is unusable afterwards.
func (m *Motor) Disable() error {
	return m.ch.close("Motor.Disable")
}

// Close is Disable.
func (m *Motor) Close() error {
	return m.Disable()
}

// Port returns the motor port.
func (m *Motor) Port() int { return m.port }
