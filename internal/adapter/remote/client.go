// Package remote implements domain.RegisterBackend on top of a nousim
// gateway, so a control program can run against a simulator on another host.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"nousim/internal/adapter/gateway"
	"nousim/internal/domain"
)

// Default client settings.
const (
	defaultDialTimeout = 5 * time.Second
	defaultCallTimeout = 2 * time.Second
	defaultMaxFailures = uint32(5)
	defaultOpenTimeout = 10 * time.Second
	defaultEventBuffer = 256
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	DialTimeout time.Duration
	CallTimeout time.Duration
	// MaxFailures is the number of consecutive transport failures before the circuit opens.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a half-open probe.
	OpenTimeout time.Duration
	// OnEvent, when set, receives every event frame the gateway forwards.
	// It runs on its own goroutine fed by a queue of EventBuffer events;
	// events arriving while the queue is full are dropped.
	OnEvent     domain.EventHandler
	EventBuffer int
	Logger      *slog.Logger
}

func (o *Options) defaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultCallTimeout
	}
	if o.MaxFailures == 0 {
		o.MaxFailures = defaultMaxFailures
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = defaultOpenTimeout
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Client is a RegisterBackend whose devices live in a remote gateway. Device
// and field handles are scoped to the client's connection; closing the
// client releases every device it created.
type Client struct {
	ws          *websocket.Conn
	url         string
	callTimeout time.Duration
	breaker     *gobreaker.CircuitBreaker[json.RawMessage]
	onEvent     domain.EventHandler
	events      chan domain.Event
	logger      *slog.Logger

	nextID  atomic.Uint64
	writeMu sync.Mutex
	mu      sync.Mutex
	pending map[uint64]chan gateway.Frame
	// abandoned maps timed-out request IDs to their method, so a late
	// device.create response can be released instead of leaking.
	abandoned map[uint64]string
	closed    bool
	done      chan struct{}
}

// Dial connects to the gateway at url (ws:// or wss://) and authenticates
// with token. Any failure to connect is reported as ErrResourceUnavailable.
func Dial(ctx context.Context, url, token string, opts Options) (*Client, error) {
	opts.defaults()

	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, domain.NewDomainError("remote.Dial",
				fmt.Errorf("%w: %w", domain.ErrResourceUnavailable, domain.ErrGatewayAuthFailed), url)
		}
		return nil, domain.NewDomainError("remote.Dial",
			fmt.Errorf("%w: %v", domain.ErrResourceUnavailable, err), url)
	}
	ws.SetReadLimit(1 << 20)

	c := &Client{
		ws:          ws,
		url:         url,
		callTimeout: opts.CallTimeout,
		onEvent:     opts.OnEvent,
		logger:      opts.Logger,
		pending:     make(map[uint64]chan gateway.Frame),
		abandoned:   make(map[uint64]string),
		done:        make(chan struct{}),
	}
	if c.onEvent != nil {
		c.events = make(chan domain.Event, opts.EventBuffer)
		go c.dispatchEvents()
	}
	logger := opts.Logger
	maxFailures := opts.MaxFailures
	c.breaker = gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        "remote:" + url,
		MaxRequests: 1, // allow 1 probe in half-open state
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// A domain error from the gateway means the transport is healthy.
		IsSuccessful: func(err error) bool {
			var re *RemoteError
			return err == nil || errors.As(err, &re)
		},
	})

	go c.readLoop()
	logger.Info("remote backend connected", "url", url)
	return c, nil
}

// State returns the circuit breaker state for monitoring.
func (c *Client) State() gobreaker.State { return c.breaker.State() }

// Close drops the connection. The gateway releases every device this client
// still holds. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	err := c.ws.Close(websocket.StatusNormalClosure, "")
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		if c.events != nil {
			close(c.events)
		}
		close(c.done)
	}()

	for {
		var f gateway.Frame
		if err := wsjson.Read(context.Background(), c.ws, &f); err != nil {
			c.logger.Debug("remote read loop ended", "error", err)
			return
		}
		switch f.Type {
		case gateway.FrameTypeResponse:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			method, late := c.abandoned[f.ID]
			delete(c.abandoned, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			} else if late {
				c.releaseLate(method, f)
			}
		case gateway.FrameTypeEvent:
			if c.events == nil {
				continue
			}
			var e domain.Event
			if err := json.Unmarshal(f.Payload, &e); err != nil {
				continue
			}
			select {
			case c.events <- e:
			default:
				c.logger.Debug("event queue full, dropping event", "type", e.Type)
			}
		}
	}
}

func (c *Client) dispatchEvents() {
	for e := range c.events {
		c.onEvent(context.Background(), e)
	}
}

// releaseLate closes a device whose create response arrived after the
// caller gave up. Nobody holds a handle to it, so it would stay claimed
// until the connection drops.
func (c *Client) releaseLate(method string, f gateway.Frame) {
	if method != gateway.MethodDeviceCreate || f.Error != "" {
		return
	}
	var resp gateway.DeviceCreateResponse
	if err := json.Unmarshal(f.Payload, &resp); err != nil {
		return
	}
	c.logger.Warn("releasing device created after timeout", "device", resp.Name)
	// readLoop must keep reading for the close response to arrive.
	go func() {
		if _, err := c.roundTrip(gateway.MethodDeviceClose, gateway.DeviceCloseRequest{Device: resp.Handle}); err != nil {
			c.logger.Warn("release late device", "device", resp.Name, "error", err)
		}
	}()
}

// call runs one RPC through the circuit breaker and decodes the result into out.
func (c *Client) call(method string, payload, out any) error {
	result, err := c.breaker.Execute(func() (json.RawMessage, error) {
		return c.roundTrip(method, payload)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.NewDomainError(method,
				fmt.Errorf("%w: %w", domain.ErrResourceUnavailable, err), "circuit open")
		}
		return err
	}
	if out != nil && len(result) > 0 {
		if err := json.Unmarshal(result, out); err != nil {
			return domain.NewDomainError(method, domain.ErrRPCInvalidPayload, err.Error())
		}
	}
	return nil
}

func (c *Client) roundTrip(method string, payload any) (json.RawMessage, error) {
	req := gateway.Frame{Type: gateway.FrameTypeRequest, ID: c.nextID.Add(1), Method: method}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", method, err)
		}
		req.Payload = data
	}

	ch := make(chan gateway.Frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.NewDomainError(method, domain.ErrResourceUnavailable, "connection closed")
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()

	c.writeMu.Lock()
	err := wsjson.Write(ctx, c.ws, req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return nil, domain.NewDomainError(method, fmt.Errorf("%w: %v", domain.ErrResourceUnavailable, err), "write")
	}

	select {
	case f, ok := <-ch:
		return c.result(method, f, ok)
	case <-ctx.Done():
		if c.abandon(req.ID, method) {
			return nil, domain.NewDomainError(method,
				fmt.Errorf("%w: %w", domain.ErrResourceUnavailable, domain.ErrTimeout), c.callTimeout.String())
		}
		// The response raced the deadline and is already buffered.
		f, ok := <-ch
		return c.result(method, f, ok)
	}
}

func (c *Client) result(method string, f gateway.Frame, ok bool) (json.RawMessage, error) {
	if !ok {
		return nil, domain.NewDomainError(method, domain.ErrResourceUnavailable, "connection closed")
	}
	if f.Error != "" {
		return nil, &RemoteError{Method: method, Code: domain.ErrorCode(f.Code), Message: f.Error}
	}
	return f.Payload, nil
}

// abandon stops waiting for id. It reports false when the response was
// already handed to the caller's channel.
func (c *Client) abandon(id uint64, method string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	if !c.closed {
		c.abandoned[id] = method
	}
	return true
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// RemoteError is an error reported by the gateway. It unwraps to the
// sentinel matching its code, so errors.Is works across the wire.
type RemoteError struct {
	Method  string
	Code    domain.ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Method, e.Message)
}

func (e *RemoteError) Unwrap() error { return domain.SentinelOf(e.Code) }

var _ domain.RegisterBackend = (*Client)(nil)
