// Package gateway exposes a register backend over WebSocket. Simulators use
// the sim.* methods to observe and drive registers; remote control programs
// use the device.* and field.* methods as their register backend.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"nousim/internal/domain"
)

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, sess *Session, payload json.RawMessage) (json.RawMessage, error)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	id        uint64
	ws        *websocket.Conn
	sess      *Session
	limiter   *rate.Limiter // nil when unlimited
	sendCh    chan Frame    // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

func (cc *clientConn) shutdown() {
	cc.closeOnce.Do(func() { close(cc.done) })
}

// Option configures a Server.
type Option func(*Server)

// WithPath sets the WebSocket endpoint path. Default "/ws".
func WithPath(path string) Option {
	return func(s *Server) { s.path = path }
}

// WithRateLimit gives every connection a token bucket of perSecond requests
// with the given burst. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.ratePerSec = perSecond
		s.burst = burst
	}
}

// Server is the WebSocket gateway that exposes RPC methods and forwards events.
type Server struct {
	bus        domain.EventBus
	clients    sync.Map // connID (uint64) -> *clientConn
	auth       Authenticator
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	logger     *slog.Logger
	addr       string
	path       string
	ratePerSec float64
	burst      int
	httpSrv    *http.Server
	httpRoutes []httpRoute
	nextID     atomic.Uint64
	unsubAll   func()
	metrics    *Metrics

	connMu   sync.Mutex
	conns    sync.WaitGroup
	stopping bool

	addrMu    sync.Mutex
	boundAddr string
	ready     chan struct{}
	stopOnce  sync.Once
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// NewServer creates a gateway server.
func NewServer(bus domain.EventBus, auth Authenticator, addr string, logger *slog.Logger, opts ...Option) *Server {
	if auth == nil {
		auth = OpenAuth{}
	}
	s := &Server{
		bus:      bus,
		auth:     auth,
		handlers: make(map[string]RPCHandler),
		logger:   logger,
		addr:     addr,
		path:     "/ws",
		metrics:  &Metrics{},
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Metrics returns the live gateway counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Start begins accepting WebSocket connections. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(s.forwardEvent)
	}

	s.addrMu.Lock()
	s.boundAddr = listener.Addr().String()
	s.addrMu.Unlock()
	close(s.ready)

	s.logger.Info("gateway started", "addr", listener.Addr().String(), "path", s.path)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the actual address the server bound to. Only valid after Ready.
func (s *Server) BoundAddr() string {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.boundAddr
}

// Stop closes every client connection, waits for their devices to be
// released and shuts the HTTP server down. Stop is idempotent.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if s.unsubAll != nil {
			s.unsubAll()
		}

		s.connMu.Lock()
		s.stopping = true
		s.connMu.Unlock()

		s.clients.Range(func(_, value any) bool {
			cc := value.(*clientConn)
			cc.shutdown()
			cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
			return true
		})

		if s.httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			err = s.httpSrv.Shutdown(shutdownCtx)
		}
		s.conns.Wait()
		s.logger.Info("gateway stopped")
	})
	return err
}

func (s *Server) forwardEvent(_ context.Context, event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Payload: payload}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		select {
		case cc.sendCh <- frame:
			s.metrics.EventsForwarded.Add(1)
		default:
			s.metrics.EventsDropped.Add(1)
			s.logger.Warn("gateway: dropped event for slow client", "conn_id", cc.id)
		}
		return true
	})
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	clientInfo, err := s.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	cc := &clientConn{
		id:     connID,
		ws:     ws,
		sess:   newSession(clientInfo, s.logger),
		sendCh: make(chan Frame, 256),
		done:   make(chan struct{}),
	}
	if s.ratePerSec > 0 {
		cc.limiter = rate.NewLimiter(rate.Limit(s.ratePerSec), s.burst)
	}

	s.connMu.Lock()
	if s.stopping {
		s.connMu.Unlock()
		ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	s.conns.Add(1)
	s.clients.Store(connID, cc)
	s.connMu.Unlock()
	defer s.conns.Done()
	s.metrics.Connections.Add(1)

	s.logger.Info("gateway client connected", "conn_id", connID, "client", clientInfo.Name)

	go s.writeLoop(cc)
	s.readLoop(r.Context(), cc)

	// Devices held by this connection die with it.
	cc.sess.closeAll()
	cc.shutdown()
	s.clients.Delete(connID)
	s.metrics.Connections.Add(-1)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

// bearerToken extracts a token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && h[:7] == "Bearer " {
		return h[7:]
	}
	return ""
}

// readLoop dispatches requests one at a time so a connection's register
// writes reach the backend in the order they were sent.
func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		if err := wsjson.Read(ctx, cc.ws, &frame); err != nil {
			return
		}
		if frame.Type != FrameTypeRequest {
			continue
		}
		if cc.limiter != nil && !cc.limiter.Allow() {
			s.metrics.RateLimited.Add(1)
			s.sendResponse(cc, frame.ID, nil, domain.NewDomainError(frame.Method, domain.ErrRateLimit, ""))
			continue
		}
		s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.metrics.RPCTotal.Add(1)

	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, domain.NewDomainError(req.Method, domain.ErrRPCMethodNotFound, ""))
		return
	}

	result, err := handler(ctx, cc.sess, req.Payload)
	if err != nil {
		s.logger.Debug("rpc failed", "conn_id", cc.id, "method", req.Method, "error", err)
	}
	s.sendResponse(cc, req.ID, result, err)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Payload: result,
	}
	if err != nil {
		s.metrics.RPCErrors.Add(1)
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
	}
	select {
	case cc.sendCh <- resp:
	case <-cc.done:
	case <-time.After(time.Second):
		s.logger.Warn("gateway: dropped RPC response for slow client", "conn_id", cc.id, "frame_id", id)
	}
}
