package domain

import (
	"fmt"
	"strings"
)

// Direction says which side is authoritative for a register's value.
type Direction uint8

const (
	// DirectionInput registers are driven by the simulator and read by the program.
	DirectionInput Direction = iota
	// DirectionOutput registers are driven by the program.
	DirectionOutput
	// DirectionBidir registers may be driven by either side.
	DirectionBidir
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	case DirectionBidir:
		return "bidir"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "input":
		return DirectionInput, nil
	case "output":
		return DirectionOutput, nil
	case "bidir":
		return DirectionBidir, nil
	default:
		return 0, NewDomainError("ParseDirection", ErrInvalidArgument, fmt.Sprintf("unknown direction %q", s))
	}
}

// SimulatorDrives reports whether the simulator side may write the register.
func (d Direction) SimulatorDrives() bool {
	return d == DirectionInput || d == DirectionBidir
}

// ValueKind is the storage type of a register.
type ValueKind string

const (
	KindInt    ValueKind = "int"
	KindDouble ValueKind = "double"
)

// RegisterBackend creates named groups of simulated registers. A device name is
// derived from (kind, index) with DeviceName; a backend must refuse a second
// live device with the same name.
type RegisterBackend interface {
	CreateDevice(kind string, index int) (SimDevice, error)
}

// SimDevice is a claimed register group. Close releases the device and every
// field created on it.
type SimDevice interface {
	Name() string
	CreateInt(name string, dir Direction, initial int) (IntField, error)
	CreateDouble(name string, dir Direction, initial float64) (DoubleField, error)
	Close() error
}

// IntField is an integer register.
type IntField interface {
	Get() (int, error)
	Set(v int) error
}

// DoubleField is a floating-point register.
type DoubleField interface {
	Get() (float64, error)
	Set(v float64) error
}

// DeviceName returns the backend namespace key for a peripheral, e.g. "NoUMotor[3]".
func DeviceName(kind string, index int) string {
	return fmt.Sprintf("%s[%d]", kind, index)
}

// FieldSnapshot is a point-in-time view of one register.
type FieldSnapshot struct {
	Name      string    `json:"name"`
	Kind      ValueKind `json:"kind"`
	Direction string    `json:"direction"`
	Value     float64   `json:"value"`
}

// DeviceSnapshot is a point-in-time view of one device and its registers.
type DeviceSnapshot struct {
	Name   string          `json:"name"`
	Fields []FieldSnapshot `json:"fields"`
}
