package peripheral

import (
	"fmt"

	"nousim/internal/domain"
)

// Servo port and angle ranges on the NoU board.
const (
	MinServoPort = 1
	MaxServoPort = 4
	MinAngle     = 0.0
	MaxAngle     = 180.0
)

// Servo is a handle to one hobby-servo channel.
type Servo struct {
	port int
	ch   *channel[float64]
}

// NewServo claims servo port (1-4).
func NewServo(backend domain.RegisterBackend, port int, opts ...Option) (*Servo, error) {
	if port < MinServoPort || port > MaxServoPort {
		return nil, domain.NewDomainError("Servo.New", domain.ErrInvalidArgument,
			fmt.Sprintf("port %d outside %d-%d", port, MinServoPort, MaxServoPort))
	}
	policy := valuePolicy[float64]{
		accept: func(v float64) bool { return v >= MinAngle && v <= MaxAngle },
		dedupe: true,
	}
	ch, err := acquire(backend, KindServo, port, "angle",
		doubleRegister("angle", domain.DirectionOutput, 0), policy, buildOptions(opts))
	if err != nil {
		return nil, domain.WrapOp("Servo.New", err)
	}
	return &Servo{port: port, ch: ch}, nil
}

// SetAngle moves the servo to angle degrees. Angles outside [0, 180] and
// angles equal to the stored one are ignored.
func (s *Servo) SetAngle(angle float64) error {
	return s.ch.set("Servo.SetAngle", angle)
}

// Angle returns the stored angle.
func (s *Servo) Angle() (float64, error) {
	return s.ch.get("Servo.Angle")
}

// Close releases the channel. Closing twice is a no-op.
func (s *Servo) Close() error {
	return s.ch.close("Servo.Close")
}

// Port returns the servo port.
func (s *Servo) Port() int { return s.port }
