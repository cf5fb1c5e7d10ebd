package simbackend

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"nousim/internal/domain"
	"nousim/internal/infra/tracer"
)

// Traced wraps a RegisterBackend and records a span for every device and
// register operation that passes through it.
type Traced struct {
	next domain.RegisterBackend
}

var _ domain.RegisterBackend = (*Traced)(nil)

// NewTraced decorates next with tracing.
func NewTraced(next domain.RegisterBackend) *Traced {
	return &Traced{next: next}
}

// CreateDevice implements domain.RegisterBackend.
func (t *Traced) CreateDevice(kind string, index int) (domain.SimDevice, error) {
	_, span := tracer.StartSpan(context.Background(), "backend.create_device",
		trace.WithAttributes(tracer.StringAttr("device.kind", kind), tracer.IntAttr("device.index", index)))
	dev, err := t.next.CreateDevice(kind, index)
	tracer.End(span, err)
	if err != nil {
		return nil, err
	}
	return &tracedDevice{next: dev}, nil
}

type tracedDevice struct {
	next domain.SimDevice
}

func (d *tracedDevice) Name() string { return d.next.Name() }

func (d *tracedDevice) span(name, field string) trace.Span {
	attrs := []trace.SpanStartOption{trace.WithAttributes(tracer.StringAttr("device.name", d.next.Name()))}
	if field != "" {
		attrs = append(attrs, trace.WithAttributes(tracer.StringAttr("register.name", field)))
	}
	_, span := tracer.StartSpan(context.Background(), name, attrs...)
	return span
}

func (d *tracedDevice) CreateInt(name string, dir domain.Direction, initial int) (domain.IntField, error) {
	span := d.span("device.create_field", name)
	span.SetAttributes(tracer.StringAttr("register.kind", string(domain.KindInt)),
		tracer.StringAttr("register.direction", dir.String()))
	f, err := d.next.CreateInt(name, dir, initial)
	tracer.End(span, err)
	if err != nil {
		return nil, err
	}
	return &tracedInt{dev: d, name: name, next: f}, nil
}

func (d *tracedDevice) CreateDouble(name string, dir domain.Direction, initial float64) (domain.DoubleField, error) {
	span := d.span("device.create_field", name)
	span.SetAttributes(tracer.StringAttr("register.kind", string(domain.KindDouble)),
		tracer.StringAttr("register.direction", dir.String()))
	f, err := d.next.CreateDouble(name, dir, initial)
	tracer.End(span, err)
	if err != nil {
		return nil, err
	}
	return &tracedDouble{dev: d, name: name, next: f}, nil
}

func (d *tracedDevice) Close() error {
	span := d.span("device.close", "")
	err := d.next.Close()
	tracer.End(span, err)
	return err
}

type tracedInt struct {
	dev  *tracedDevice
	name string
	next domain.IntField
}

func (f *tracedInt) Get() (int, error) {
	span := f.dev.span("field.get", f.name)
	v, err := f.next.Get()
	span.SetAttributes(tracer.IntAttr("register.value", v))
	tracer.End(span, err)
	return v, err
}

func (f *tracedInt) Set(v int) error {
	span := f.dev.span("field.set", f.name)
	span.SetAttributes(tracer.IntAttr("register.value", v))
	err := f.next.Set(v)
	tracer.End(span, err)
	return err
}

type tracedDouble struct {
	dev  *tracedDevice
	name string
	next domain.DoubleField
}

func (f *tracedDouble) Get() (float64, error) {
	span := f.dev.span("field.get", f.name)
	v, err := f.next.Get()
	span.SetAttributes(tracer.Float64Attr("register.value", v))
	tracer.End(span, err)
	return v, err
}

func (f *tracedDouble) Set(v float64) error {
	span := f.dev.span("field.set", f.name)
	span.SetAttributes(tracer.Float64Attr("register.value", v))
	err := f.next.Set(v)
	tracer.End(span, err)
	return err
}
