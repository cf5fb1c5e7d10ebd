package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"nousim/internal/domain"
)

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	Connections     atomic.Int64
	RPCTotal        atomic.Int64
	RPCErrors       atomic.Int64
	RateLimited     atomic.Int64
	EventsForwarded atomic.Int64
	EventsDropped   atomic.Int64
	ProgramWrites   atomic.Int64
	SimulatorWrites atomic.Int64
}

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service       string `json:"service"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Clients       int64  `json:"clients"`
	Devices       int    `json:"devices"`
	Registers     int    `json:"registers"`
	Journal       bool   `json:"journal"`
}

// RegisterRESTHandlers mounts /healthz, /api/v1/status and /metrics.
// Status and metrics require the same token as the WebSocket endpoint.
func RegisterRESTHandlers(s *Server, deps HandlerDeps, bus domain.EventBus, version string) {
	start := time.Now()

	if bus != nil {
		bus.Subscribe(domain.EventRegisterChanged, func(_ context.Context, e domain.Event) {
			p, err := domain.DecodeRegisterEvent(e)
			if err != nil {
				return
			}
			if p.Source == domain.SourceSimulator {
				s.metrics.SimulatorWrites.Add(1)
			} else {
				s.metrics.ProgramWrites.Add(1)
			}
		})
	}

	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = bearerToken(r)
			}
			if _, err := s.auth.Authenticate(token); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	s.RegisterHTTPRoute("/api/v1/status", authMiddleware(statusHandler(s, deps, start, version)))
	s.RegisterHTTPRoute("/metrics", authMiddleware(metricsHandler(s, deps, start)))
}

func countRegisters(sim Simulator) (devices, registers int) {
	if sim == nil {
		return 0, 0
	}
	snap := sim.Snapshot()
	for _, d := range snap {
		registers += len(d.Fields)
	}
	return len(snap), registers
}

func statusHandler(s *Server, deps HandlerDeps, start time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		devices, registers := countRegisters(deps.Sim)
		resp := StatusResponse{
			Service:       "nousim",
			Version:       version,
			UptimeSeconds: int64(time.Since(start).Seconds()),
			Clients:       s.metrics.Connections.Load(),
			Devices:       devices,
			Registers:     registers,
			Journal:       deps.History != nil,
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// metricsHandler writes the Prometheus text exposition format by hand; the
// handful of gauges and counters here does not warrant the client library.
func metricsHandler(s *Server, deps HandlerDeps, start time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		devices, registers := countRegisters(deps.Sim)
		m := s.metrics
		write := func(name, typ, help string, v any) {
			fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n", name, help, name, typ, name, v)
		}
		write("nousim_uptime_seconds", "gauge", "Seconds since the gateway started.", int64(time.Since(start).Seconds()))
		write("nousim_devices_live", "gauge", "Live simulated devices.", devices)
		write("nousim_registers_live", "gauge", "Live simulated registers.", registers)
		write("nousim_gateway_clients", "gauge", "Connected gateway clients.", m.Connections.Load())
		write("nousim_rpc_total", "counter", "RPC requests handled.", m.RPCTotal.Load())
		write("nousim_rpc_errors_total", "counter", "RPC requests that returned an error.", m.RPCErrors.Load())
		write("nousim_rpc_rate_limited_total", "counter", "RPC requests rejected by the rate limiter.", m.RateLimited.Load())
		write("nousim_events_forwarded_total", "counter", "Events forwarded to clients.", m.EventsForwarded.Load())
		write("nousim_events_dropped_total", "counter", "Events dropped for slow clients.", m.EventsDropped.Load())
		fmt.Fprintf(w, "# HELP nousim_register_writes_total Register writes by source.\n# TYPE nousim_register_writes_total counter\n")
		fmt.Fprintf(w, "nousim_register_writes_total{source=\"program\"} %d\n", m.ProgramWrites.Load())
		fmt.Fprintf(w, "nousim_register_writes_total{source=\"simulator\"} %d\n", m.SimulatorWrites.Load())
	}
}
