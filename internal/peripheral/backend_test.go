package peripheral

import (
	"errors"
	"fmt"

	"nousim/internal/domain"
)

// --- recording test double for domain.RegisterBackend ---

type fakeBackend struct {
	live     map[string]*fakeDevice
	devices  []*fakeDevice // every device ever created, in order
	failKind string        // CreateDevice fails for this kind
	failErr  error
	// Devices created after these are set refuse field creation or writes.
	failField bool
	failSet   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{live: make(map[string]*fakeDevice)}
}

func (b *fakeBackend) CreateDevice(kind string, index int) (domain.SimDevice, error) {
	name := domain.DeviceName(kind, index)
	if kind == b.failKind {
		return nil, b.failErr
	}
	if _, ok := b.live[name]; ok {
		return nil, fmt.Errorf("device %s exists: %w", name, domain.ErrResourceUnavailable)
	}
	d := &fakeDevice{backend: b, name: name, fields: make(map[string]*fakeField),
		failField: b.failField, failSet: b.failSet}
	b.live[name] = d
	b.devices = append(b.devices, d)
	return d, nil
}

// device returns the most recently created device with name.
func (b *fakeBackend) device(name string) *fakeDevice {
	for i := len(b.devices) - 1; i >= 0; i-- {
		if b.devices[i].name == name {
			return b.devices[i]
		}
	}
	return nil
}

type fakeDevice struct {
	backend   *fakeBackend
	name      string
	fields    map[string]*fakeField
	closes    int
	failField bool
	failSet   bool
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) add(name string, dir domain.Direction, initial float64) (*fakeField, error) {
	if d.failField {
		return nil, errors.New("field refused")
	}
	if _, ok := d.fields[name]; ok {
		return nil, domain.ErrDuplicate
	}
	f := &fakeField{name: name, dir: dir, value: initial, failSet: d.failSet}
	d.fields[name] = f
	return f, nil
}

func (d *fakeDevice) CreateInt(name string, dir domain.Direction, initial int) (domain.IntField, error) {
	f, err := d.add(name, dir, float64(initial))
	if err != nil {
		return nil, err
	}
	return fakeInt{f}, nil
}

func (d *fakeDevice) CreateDouble(name string, dir domain.Direction, initial float64) (domain.DoubleField, error) {
	f, err := d.add(name, dir, initial)
	if err != nil {
		return nil, err
	}
	return fakeDouble{f}, nil
}

func (d *fakeDevice) Close() error {
	d.closes++
	delete(d.backend.live, d.name)
	return nil
}

type fakeField struct {
	name    string
	dir     domain.Direction
	value   float64
	writes  []float64
	failSet bool
}

func (f *fakeField) set(v float64) error {
	if f.failSet {
		return errors.New("set refused")
	}
	f.value = v
	f.writes = append(f.writes, v)
	return nil
}

type fakeInt struct{ f *fakeField }

func (i fakeInt) Get() (int, error) { return int(i.f.value), nil }
func (i fakeInt) Set(v int) error   { return i.f.set(float64(v)) }

type fakeDouble struct{ f *fakeField }

func (d fakeDouble) Get() (float64, error) { return d.f.value, nil }
func (d fakeDouble) Set(v float64) error   { return d.f.set(v) }
