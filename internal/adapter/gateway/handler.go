package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"nousim/internal/domain"
)

// Simulator is the simulator-side view of a register store.
type Simulator interface {
	Snapshot() []domain.DeviceSnapshot
	Value(device, field string) (float64, error)
	Drive(device, field string, value float64) error
}

// HistoryReader returns journaled register events, newest first.
type HistoryReader interface {
	History(ctx context.Context, device, field string, limit int) ([]domain.RegisterRecord, error)
}

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Backend domain.RegisterBackend // program side; can be nil
	Sim     Simulator              // simulator side; can be nil
	History HistoryReader          // can be nil (journal disabled)
	Logger  *slog.Logger
}

const defaultHistoryLimit = 100

// RegisterDefaultHandlers registers all built-in RPC handlers on the server.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	if deps.Sim != nil {
		s.RegisterHandler(MethodSimSnapshot, simSnapshotHandler(deps))
		s.RegisterHandler(MethodSimGet, simGetHandler(deps))
		s.RegisterHandler(MethodSimDrive, simDriveHandler(deps))
	}
	if deps.History != nil {
		s.RegisterHandler(MethodSimHistory, simHistoryHandler(deps))
	}
	if deps.Backend != nil {
		s.RegisterHandler(MethodDeviceCreate, deviceCreateHandler(deps))
		s.RegisterHandler(MethodFieldCreate, fieldCreateHandler())
		s.RegisterHandler(MethodFieldGet, fieldGetHandler())
		s.RegisterHandler(MethodFieldSet, fieldSetHandler())
		s.RegisterHandler(MethodDeviceClose, deviceCloseHandler())
	}
}

func decode[T any](method string, payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, domain.NewDomainError(method, domain.ErrRPCInvalidPayload, "missing payload")
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, domain.NewDomainError(method, domain.ErrRPCInvalidPayload, err.Error())
	}
	return v, nil
}

func reply(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return data, nil
}

func simSnapshotHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *Session, _ json.RawMessage) (json.RawMessage, error) {
		return reply(deps.Sim.Snapshot())
	}
}

func simGetHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *Session, payload json.RawMessage) (json.RawMessage, error) {
		req, err := decode[RegisterRequest](MethodSimGet, payload)
		if err != nil {
			return nil, err
		}
		v, err := deps.Sim.Value(req.Device, req.Field)
		if err != nil {
			return nil, err
		}
		return reply(ValueResponse{Value: v})
	}
}

func simDriveHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, sess *Session, payload json.RawMessage) (json.RawMessage, error) {
		req, err := decode[RegisterRequest](MethodSimDrive, payload)
		if err != nil {
			return nil, err
		}
		if err := deps.Sim.Drive(req.Device, req.Field, req.Value); err != nil {
			return nil, err
		}
		deps.Logger.Debug("simulator drove register",
			"client", sess.Client.Name, "device", req.Device, "field", req.Field, "value", req.Value)
		return reply(ValueResponse{Value: req.Value})
	}
}

func simHistoryHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *Session, payload json.RawMessage) (json.RawMessage, error) {
		req, err := decode[RegisterRequest](MethodSimHistory, payload)
		if err != nil {
			return nil, err
		}
		if req.Limit <= 0 {
			req.Limit = defaultHistoryLimit
		}
		records, err := deps.History.History(ctx, req.Device, req.Field, req.Limit)
		if err != nil {
			return nil, err
		}
		if records == nil {
			records = []domain.RegisterRecord{}
		}
		return reply(records)
	}
}

func deviceCreateHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, sess *Session, payload json.RawMessage) (json.RawMessage, error) {
		req, err := decode[DeviceCreateRequest](MethodDeviceCreate, payload)
		if err != nil {
			return nil, err
		}
		resp, err := sess.createDevice(deps.Backend, req.Kind, req.Index)
		if err != nil {
			return nil, err
		}
		return reply(resp)
	}
}

func fieldCreateHandler() RPCHandler {
	return func(_ context.Context, sess *Session, payload json.RawMessage) (json.RawMessage, error) {
		req, err := decode[FieldCreateRequest](MethodFieldCreate, payload)
		if err != nil {
			return nil, err
		}
		resp, err := sess.createField(req)
		if err != nil {
			return nil, err
		}
		return reply(resp)
	}
}

func fieldGetHandler() RPCHandler {
	return func(_ context.Context, sess *Session, payload json.RawMessage) (json.RawMessage, error) {
		req, err := decode[FieldRequest](MethodFieldGet, payload)
		if err != nil {
			return nil, err
		}
		v, err := sess.get(req.Field)
		if err != nil {
			return nil, err
		}
		return reply(ValueResponse{Value: v})
	}
}

func fieldSetHandler() RPCHandler {
	return func(_ context.Context, sess *Session, payload json.RawMessage) (json.RawMessage, error) {
		req, err := decode[FieldRequest](MethodFieldSet, payload)
		if err != nil {
			return nil, err
		}
		if err := sess.set(req.Field, req.Value); err != nil {
			return nil, err
		}
		return nil, nil
	}
}

func deviceCloseHandler() RPCHandler {
	return func(_ context.Context, sess *Session, payload json.RawMessage) (json.RawMessage, error) {
		req, err := decode[DeviceCloseRequest](MethodDeviceClose, payload)
		if err != nil {
			return nil, err
		}
		return nil, sess.closeDevice(req.Device)
	}
}
