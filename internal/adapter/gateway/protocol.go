package gateway

import "nousim/internal/domain"

// RPC method names.
const (
	MethodSimSnapshot = "sim.snapshot"
	MethodSimGet      = "sim.get"
	MethodSimDrive    = "sim.drive"
	MethodSimHistory  = "sim.history"

	MethodDeviceCreate = "device.create"
	MethodFieldCreate  = "field.create"
	MethodFieldGet     = "field.get"
	MethodFieldSet     = "field.set"
	MethodDeviceClose  = "device.close"
)

// DeviceCreateRequest is the payload of device.create.
type DeviceCreateRequest struct {
	Kind  string `json:"kind"`
	Index int    `json:"index"`
}

// DeviceCreateResponse carries the connection-scoped handle of a new device.
type DeviceCreateResponse struct {
	Handle uint64 `json:"handle"`
	Name   string `json:"name"`
}

// FieldCreateRequest is the payload of field.create.
type FieldCreateRequest struct {
	Device    uint64           `json:"device"`
	Name      string           `json:"name"`
	Kind      domain.ValueKind `json:"kind"`
	Direction string           `json:"direction"`
	Initial   float64          `json:"initial"`
}

// FieldCreateResponse carries the connection-scoped handle of a new field.
type FieldCreateResponse struct {
	Handle uint64 `json:"handle"`
}

// FieldRequest addresses a field handle; Value is used by field.set only.
type FieldRequest struct {
	Field uint64  `json:"field"`
	Value float64 `json:"value,omitempty"`
}

// DeviceCloseRequest is the payload of device.close.
type DeviceCloseRequest struct {
	Device uint64 `json:"device"`
}

// RegisterRequest addresses a register by name from the simulator side.
// Value is used by sim.drive; Limit by sim.history.
type RegisterRequest struct {
	Device string  `json:"device"`
	Field  string  `json:"field"`
	Value  float64 `json:"value,omitempty"`
	Limit  int     `json:"limit,omitempty"`
}

// ValueResponse carries a register value.
type ValueResponse struct {
	Value float64 `json:"value"`
}
