package remote

import (
	"sync"

	"nousim/internal/adapter/gateway"
	"nousim/internal/domain"
)

// CreateDevice claims kind[index] on the gateway.
func (c *Client) CreateDevice(kind string, index int) (domain.SimDevice, error) {
	var resp gateway.DeviceCreateResponse
	if err := c.call(gateway.MethodDeviceCreate, gateway.DeviceCreateRequest{Kind: kind, Index: index}, &resp); err != nil {
		return nil, err
	}
	return &device{c: c, handle: resp.Handle, name: resp.Name}, nil
}

type device struct {
	c      *Client
	handle uint64
	name   string

	closeOnce sync.Once
	closeErr  error
}

func (d *device) Name() string { return d.name }

func (d *device) createField(name string, kind domain.ValueKind, dir domain.Direction, initial float64) (uint64, error) {
	var resp gateway.FieldCreateResponse
	err := d.c.call(gateway.MethodFieldCreate, gateway.FieldCreateRequest{
		Device:    d.handle,
		Name:      name,
		Kind:      kind,
		Direction: dir.String(),
		Initial:   initial,
	}, &resp)
	return resp.Handle, err
}

func (d *device) CreateInt(name string, dir domain.Direction, initial int) (domain.IntField, error) {
	h, err := d.createField(name, domain.KindInt, dir, float64(initial))
	if err != nil {
		return nil, err
	}
	return intField{field{c: d.c, handle: h}}, nil
}

func (d *device) CreateDouble(name string, dir domain.Direction, initial float64) (domain.DoubleField, error) {
	h, err := d.createField(name, domain.KindDouble, dir, initial)
	if err != nil {
		return nil, err
	}
	return doubleField{field{c: d.c, handle: h}}, nil
}

// Close releases the device on the gateway. Only the first call talks to it.
func (d *device) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.c.call(gateway.MethodDeviceClose, gateway.DeviceCloseRequest{Device: d.handle}, nil)
	})
	return d.closeErr
}

type field struct {
	c      *Client
	handle uint64
}

func (f field) get() (float64, error) {
	var resp gateway.ValueResponse
	err := f.c.call(gateway.MethodFieldGet, gateway.FieldRequest{Field: f.handle}, &resp)
	return resp.Value, err
}

func (f field) set(v float64) error {
	return f.c.call(gateway.MethodFieldSet, gateway.FieldRequest{Field: f.handle, Value: v}, nil)
}

type intField struct{ field }

func (i intField) Get() (int, error) {
	v, err := i.get()
	return int(v), err
}

func (i intField) Set(v int) error { return i.set(float64(v)) }

type doubleField struct{ field }

func (x doubleField) Get() (float64, error) { return x.get() }
func (x doubleField) Set(v float64) error   { return x.set(v) }
