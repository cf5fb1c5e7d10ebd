package gateway

import (
	"fmt"
	"log/slog"
	"math"

	"nousim/internal/domain"
)

// Session is the per-connection handle table for program-side clients.
// Handles are only valid on the connection that created them. A Session is
// owned by its connection's read loop and is not safe for concurrent use.
type Session struct {
	Client  *ClientInfo
	logger  *slog.Logger
	next    uint64
	devices map[uint64]*openDevice
	fields  map[uint64]*openField
}

type openDevice struct {
	dev    domain.SimDevice
	fields []uint64
}

type openField struct {
	kind   domain.ValueKind
	ints   domain.IntField
	floats domain.DoubleField
}

func newSession(client *ClientInfo, logger *slog.Logger) *Session {
	return &Session{
		Client:  client,
		logger:  logger,
		devices: make(map[uint64]*openDevice),
		fields:  make(map[uint64]*openField),
	}
}

func (s *Session) handle() uint64 {
	s.next++
	return s.next
}

func (s *Session) createDevice(backend domain.RegisterBackend, kind string, index int) (DeviceCreateResponse, error) {
	if kind == "" {
		return DeviceCreateResponse{}, domain.NewDomainError(MethodDeviceCreate, domain.ErrInvalidArgument, "kind is required")
	}
	dev, err := backend.CreateDevice(kind, index)
	if err != nil {
		return DeviceCreateResponse{}, err
	}
	h := s.handle()
	s.devices[h] = &openDevice{dev: dev}
	return DeviceCreateResponse{Handle: h, Name: dev.Name()}, nil
}

func (s *Session) createField(req FieldCreateRequest) (FieldCreateResponse, error) {
	od, ok := s.devices[req.Device]
	if !ok {
		return FieldCreateResponse{}, domain.NewDomainError(MethodFieldCreate, domain.ErrNotFound,
			fmt.Sprintf("device handle %d", req.Device))
	}
	dir, err := domain.ParseDirection(req.Direction)
	if err != nil {
		return FieldCreateResponse{}, err
	}

	of := &openField{kind: req.Kind}
	switch req.Kind {
	case domain.KindInt:
		if req.Initial != math.Trunc(req.Initial) {
			return FieldCreateResponse{}, domain.NewDomainError(MethodFieldCreate, domain.ErrInvalidArgument, "int initial must be integral")
		}
		of.ints, err = od.dev.CreateInt(req.Name, dir, int(req.Initial))
	case domain.KindDouble:
		of.floats, err = od.dev.CreateDouble(req.Name, dir, req.Initial)
	default:
		return FieldCreateResponse{}, domain.NewDomainError(MethodFieldCreate, domain.ErrInvalidArgument,
			fmt.Sprintf("unknown value kind %q", req.Kind))
	}
	if err != nil {
		return FieldCreateResponse{}, err
	}

	h := s.handle()
	s.fields[h] = of
	od.fields = append(od.fields, h)
	return FieldCreateResponse{Handle: h}, nil
}

func (s *Session) field(op string, h uint64) (*openField, error) {
	of, ok := s.fields[h]
	if !ok {
		return nil, domain.NewDomainError(op, domain.ErrNotFound, fmt.Sprintf("field handle %d", h))
	}
	return of, nil
}

func (s *Session) get(h uint64) (float64, error) {
	of, err := s.field(MethodFieldGet, h)
	if err != nil {
		return 0, err
	}
	if of.kind == domain.KindInt {
		v, err := of.ints.Get()
		return float64(v), err
	}
	return of.floats.Get()
}

func (s *Session) set(h uint64, v float64) error {
	of, err := s.field(MethodFieldSet, h)
	if err != nil {
		return err
	}
	if of.kind == domain.KindInt {
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return domain.NewDomainError(MethodFieldSet, domain.ErrInvalidArgument, "int register needs an integral value")
		}
		return of.ints.Set(int(v))
	}
	return of.floats.Set(v)
}

func (s *Session) closeDevice(h uint64) error {
	od, ok := s.devices[h]
	if !ok {
		return domain.NewDomainError(MethodDeviceClose, domain.ErrNotFound, fmt.Sprintf("device handle %d", h))
	}
	for _, fh := range od.fields {
		delete(s.fields, fh)
	}
	delete(s.devices, h)
	return od.dev.Close()
}

// closeAll releases every device the connection still holds.
func (s *Session) closeAll() {
	for h, od := range s.devices {
		if err := s.closeDevice(h); err != nil {
			s.logger.Warn("release device on disconnect", "device", od.dev.Name(), "error", err)
		}
	}
}
