// Package simbackend holds register backends for the NoU peripheral handles:
// an in-memory store shared with external simulators, and a tracing decorator.
package simbackend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"sync"

	"nousim/internal/domain"
)

// Memory is a goroutine-safe register store. The program side reaches it
// through domain.RegisterBackend; the simulator side uses Snapshot, Value
// and Drive. Every change is published on the bus when one is attached.
type Memory struct {
	mu      sync.RWMutex
	devices map[string]*memDevice
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewMemory creates an empty store. bus may be nil.
func NewMemory(bus domain.EventBus, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Memory{
		devices: make(map[string]*memDevice),
		bus:     bus,
		logger:  logger,
	}
}

type memField struct {
	name  string
	kind  domain.ValueKind
	dir   domain.Direction
	value float64
}

type memDevice struct {
	mem    *Memory
	name   string
	fields map[string]*memField
	order  []string
	closed bool
}

// CreateDevice claims the device namespace kind[index].
func (m *Memory) CreateDevice(kind string, index int) (domain.SimDevice, error) {
	name := domain.DeviceName(kind, index)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[name]; ok {
		return nil, domain.NewDomainError("Memory.CreateDevice", domain.ErrResourceUnavailable,
			fmt.Sprintf("device %s already exists", name))
	}
	d := &memDevice{mem: m, name: name, fields: make(map[string]*memField)}
	m.devices[name] = d
	m.publish(domain.EventDeviceCreated, domain.RegisterEvent{Device: name, Source: domain.SourceProgram})
	m.logger.Info("sim device created", "device", name)
	return d, nil
}

// publish must be called with m.mu held so events leave in mutation order.
func (m *Memory) publish(typ domain.EventType, payload domain.RegisterEvent) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(context.Background(), domain.NewRegisterEvent(typ, payload))
}

func fieldEvent(device string, f *memField, src domain.Source) domain.RegisterEvent {
	return domain.RegisterEvent{
		Device:    device,
		Field:     f.name,
		Kind:      f.kind,
		Direction: f.dir.String(),
		Value:     f.value,
		Source:    src,
	}
}

// Snapshot returns every live device with its registers, sorted by name.
func (m *Memory) Snapshot() []domain.DeviceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.devices))
	for name := range m.devices {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]domain.DeviceSnapshot, 0, len(names))
	for _, name := range names {
		d := m.devices[name]
		snap := domain.DeviceSnapshot{Name: name, Fields: make([]domain.FieldSnapshot, 0, len(d.order))}
		for _, fname := range d.order {
			f := d.fields[fname]
			snap.Fields = append(snap.Fields, domain.FieldSnapshot{
				Name:      f.name,
				Kind:      f.kind,
				Direction: f.dir.String(),
				Value:     f.value,
			})
		}
		out = append(out, snap)
	}
	return out
}

func (m *Memory) lookup(op, device, field string) (*memField, error) {
	d, ok := m.devices[device]
	if !ok {
		return nil, domain.NewDomainError(op, domain.ErrNotFound, "device "+device)
	}
	f, ok := d.fields[field]
	if !ok {
		return nil, domain.NewDomainError(op, domain.ErrNotFound, fmt.Sprintf("field %s.%s", device, field))
	}
	return f, nil
}

// Value returns the stored value of device.field.
func (m *Memory) Value(device, field string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, err := m.lookup("Memory.Value", device, field)
	if err != nil {
		return 0, err
	}
	return f.value, nil
}

// Drive writes a register from the simulator side. Only input and bidir
// registers accept simulator writes; int registers need an integral value.
func (m *Memory) Drive(device, field string, value float64) error {
	const op = "Memory.Drive"

	m.mu.Lock()
	defer m.mu.Unlock()
	f, err := m.lookup(op, device, field)
	if err != nil {
		return err
	}
	if !f.dir.SimulatorDrives() {
		return domain.NewDomainError(op, domain.ErrUnsupportedOperation,
			fmt.Sprintf("%s.%s is %s", device, field, f.dir))
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return domain.NewDomainError(op, domain.ErrInvalidArgument, "value must be finite")
	}
	if f.kind == domain.KindInt && value != math.Trunc(value) {
		return domain.NewDomainError(op, domain.ErrInvalidArgument,
			fmt.Sprintf("%s.%s holds integers, got %v", device, field, value))
	}
	f.value = value
	m.publish(domain.EventRegisterChanged, fieldEvent(device, f, domain.SourceSimulator))
	return nil
}

// Len returns the number of live devices.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

func (d *memDevice) Name() string { return d.name }

func (d *memDevice) create(op, name string, kind domain.ValueKind, dir domain.Direction, initial float64) (*memField, error) {
	m := d.mem
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.closed {
		return nil, domain.NewDomainError(op, domain.ErrClosed, d.name)
	}
	if name == "" {
		return nil, domain.NewDomainError(op, domain.ErrInvalidArgument, "empty field name")
	}
	if _, ok := d.fields[name]; ok {
		return nil, domain.NewDomainError(op, domain.ErrDuplicate, fmt.Sprintf("field %s.%s", d.name, name))
	}
	f := &memField{name: name, kind: kind, dir: dir, value: initial}
	d.fields[name] = f
	d.order = append(d.order, name)
	m.publish(domain.EventRegisterCreated, fieldEvent(d.name, f, domain.SourceProgram))
	return f, nil
}

func (d *memDevice) CreateInt(name string, dir domain.Direction, initial int) (domain.IntField, error) {
	f, err := d.create("Device.CreateInt", name, domain.KindInt, dir, float64(initial))
	if err != nil {
		return nil, err
	}
	return intField{dev: d, f: f}, nil
}

func (d *memDevice) CreateDouble(name string, dir domain.Direction, initial float64) (domain.DoubleField, error) {
	f, err := d.create("Device.CreateDouble", name, domain.KindDouble, dir, initial)
	if err != nil {
		return nil, err
	}
	return doubleField{dev: d, f: f}, nil
}

// Close removes the device and its registers. The name becomes free again.
func (d *memDevice) Close() error {
	m := d.mem
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if m.devices[d.name] == d {
		delete(m.devices, d.name)
	}
	m.publish(domain.EventDeviceClosed, domain.RegisterEvent{Device: d.name, Source: domain.SourceProgram})
	m.logger.Info("sim device closed", "device", d.name)
	return nil
}

func (d *memDevice) get(op string, f *memField) (float64, error) {
	d.mem.mu.RLock()
	defer d.mem.mu.RUnlock()
	if d.closed {
		return 0, domain.NewDomainError(op, domain.ErrClosed, d.name)
	}
	return f.value, nil
}

func (d *memDevice) set(op string, f *memField, v float64) error {
	m := d.mem
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.closed {
		return domain.NewDomainError(op, domain.ErrClosed, d.name)
	}
	f.value = v
	m.publish(domain.EventRegisterChanged, fieldEvent(d.name, f, domain.SourceProgram))
	return nil
}

type intField struct {
	dev *memDevice
	f   *memField
}

func (i intField) Get() (int, error) {
	v, err := i.dev.get("IntField.Get", i.f)
	return int(v), err
}

func (i intField) Set(v int) error { return i.dev.set("IntField.Set", i.f, float64(v)) }

type doubleField struct {
	dev *memDevice
	f   *memField
}

func (x doubleField) Get() (float64, error) { return x.dev.get("DoubleField.Get", x.f) }
func (x doubleField) Set(v float64) error   { return x.dev.set("DoubleField.Set", x.f, v) }

var _ domain.RegisterBackend = (*Memory)(nil)
