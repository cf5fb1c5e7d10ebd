package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nousim/internal/adapter/gateway"
	"nousim/internal/adapter/simbackend"
	"nousim/internal/domain"
	"nousim/internal/peripheral"
	"nousim/internal/usecase/eventbus"
)

type testGateway struct {
	srv    *gateway.Server
	mem    *simbackend.Memory
	url    string
	cancel context.CancelFunc
}

func startGateway(t *testing.T, extra map[string]gateway.RPCHandler) *testGateway {
	t.Helper()
	return startGatewayWith(t, nil, extra)
}

// startGatewayWith serves wrap(mem) to clients when wrap is set.
func startGatewayWith(t *testing.T, wrap func(domain.RegisterBackend) domain.RegisterBackend, extra map[string]gateway.RPCHandler) *testGateway {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(logger)
	mem := simbackend.NewMemory(bus, logger)

	var backend domain.RegisterBackend = mem
	if wrap != nil {
		backend = wrap(mem)
	}

	auth := gateway.NewStaticTokenAuth([]gateway.TokenEntry{{Token: "tok", Name: "robot"}})
	srv := gateway.NewServer(bus, auth, "127.0.0.1:0", logger)
	gateway.RegisterDefaultHandlers(srv, gateway.HandlerDeps{Backend: backend, Sim: mem, Logger: logger})
	for method, h := range extra {
		srv.RegisterHandler(method, h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Start(ctx)
	select {
	case <-srv.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not start")
	}
	t.Cleanup(func() {
		cancel()
		srv.Stop(context.Background())
		bus.Close()
	})
	return &testGateway{srv: srv, mem: mem, url: "ws://" + srv.BoundAddr() + "/ws", cancel: cancel}
}

func dialTest(t *testing.T, g *testGateway, opts Options) *Client {
	t.Helper()
	c, err := Dial(context.Background(), g.url, "tok", opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestClient_MotorOverTheWire(t *testing.T) {
	g := startGateway(t, nil)
	c := dialTest(t, g, Options{})

	m, err := peripheral.NewMotor(c, 3)
	require.NoError(t, err)

	require.NoError(t, m.Set(0.667))
	v, err := g.mem.Value("NoUMotor[3]", "speed")
	require.NoError(t, err)
	assert.Equal(t, 0.67, v)

	got, err := m.Get()
	require.NoError(t, err)
	assert.Equal(t, 0.67, got)

	require.NoError(t, m.Disable())
	assert.Equal(t, 0, g.mem.Len())
}

func TestClient_DigitalPinReadsSimulatorDrive(t *testing.T) {
	g := startGateway(t, nil)
	c := dialTest(t, g, Options{})

	pin, err := peripheral.NewDigitalPin(c, 2, peripheral.ReadOnly)
	require.NoError(t, err)
	defer pin.Close()

	require.NoError(t, g.mem.Drive("NoUGPIO[2]", "value", 1))
	v, err := pin.Read()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = g.mem.Value("GPIOPrep[2]", "mode")
	assert.ErrorIs(t, err, domain.ErrNotFound, "announcement device is released")
}

func TestClient_RemoteErrorsMapToSentinels(t *testing.T) {
	g := startGateway(t, nil)
	a := dialTest(t, g, Options{})
	b := dialTest(t, g, Options{})

	dev, err := a.CreateDevice("NoUServo", 1)
	require.NoError(t, err)
	assert.Equal(t, "NoUServo[1]", dev.Name())

	_, err = b.CreateDevice("NoUServo", 1)
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
	var re *RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, domain.CodeResourceUnavailable, re.Code)

	_, err = dev.CreateDouble("angle", domain.DirectionOutput, 0)
	require.NoError(t, err)
	_, err = dev.CreateDouble("angle", domain.DirectionOutput, 0)
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	assert.Equal(t, gobreaker.StateClosed, a.State(), "domain errors do not trip the breaker")
}

func TestClient_CloseReleasesDevices(t *testing.T) {
	g := startGateway(t, nil)
	c, err := Dial(context.Background(), g.url, "tok", Options{})
	require.NoError(t, err)

	_, err = c.CreateDevice("NoUMotor", 1)
	require.NoError(t, err)
	require.Equal(t, 1, g.mem.Len())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return g.mem.Len() == 0 }, 5*time.Second, 10*time.Millisecond)

	_, err = c.CreateDevice("NoUMotor", 2)
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
}

func TestClient_CallTimeout(t *testing.T) {
	release := make(chan struct{})
	g := startGateway(t, map[string]gateway.RPCHandler{
		gateway.MethodDeviceCreate: func(context.Context, *gateway.Session, json.RawMessage) (json.RawMessage, error) {
			<-release
			return json.RawMessage(`{"handle":1,"name":"slow"}`), nil
		},
	})
	c := dialTest(t, g, Options{CallTimeout: 50 * time.Millisecond})
	defer close(release)

	_, err := c.CreateDevice("NoUMotor", 1)
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

// slowFirstCreate delays the first CreateDevice past the client's deadline.
type slowFirstCreate struct {
	domain.RegisterBackend
	delay time.Duration
	calls atomic.Int32
}

func (s *slowFirstCreate) CreateDevice(kind string, index int) (domain.SimDevice, error) {
	if s.calls.Add(1) == 1 {
		time.Sleep(s.delay)
	}
	return s.RegisterBackend.CreateDevice(kind, index)
}

func TestClient_LateCreateIsReleased(t *testing.T) {
	g := startGatewayWith(t, func(b domain.RegisterBackend) domain.RegisterBackend {
		return &slowFirstCreate{RegisterBackend: b, delay: 300 * time.Millisecond}
	}, nil)
	c := dialTest(t, g, Options{CallTimeout: 100 * time.Millisecond})

	_, err := peripheral.NewMotor(c, 2)
	require.ErrorIs(t, err, domain.ErrTimeout)

	assert.Eventually(t, func() bool { return g.mem.Len() == 0 }, 5*time.Second, 10*time.Millisecond,
		"device created after the deadline is closed again")

	m, err := peripheral.NewMotor(c, 2)
	require.NoError(t, err)
	require.NoError(t, m.Close())
}

func TestClient_SlowEventHandlerDoesNotStallCalls(t *testing.T) {
	g := startGateway(t, nil)

	unblock := make(chan struct{})
	defer close(unblock)
	c := dialTest(t, g, Options{
		CallTimeout: 500 * time.Millisecond,
		OnEvent:     func(context.Context, domain.Event) { <-unblock },
	})

	for i := 1; i <= 3; i++ {
		_, err := c.CreateDevice("NoUGPIO", i)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, g.mem.Len())
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	stall := make(chan struct{})
	g := startGateway(t, map[string]gateway.RPCHandler{
		gateway.MethodDeviceCreate: func(context.Context, *gateway.Session, json.RawMessage) (json.RawMessage, error) {
			<-stall
			return nil, nil
		},
	})
	defer close(stall)

	c := dialTest(t, g, Options{CallTimeout: 20 * time.Millisecond, MaxFailures: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_, err := c.CreateDevice("NoUMotor", 1)
		require.ErrorIs(t, err, domain.ErrTimeout)
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	start := time.Now()
	_, err := c.CreateDevice("NoUMotor", 1)
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Less(t, time.Since(start), 20*time.Millisecond, "open circuit fails fast")
}

func TestDial_Failures(t *testing.T) {
	g := startGateway(t, nil)

	_, err := Dial(context.Background(), g.url, "wrong", Options{})
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
	assert.ErrorIs(t, err, domain.ErrGatewayAuthFailed)

	_, err = Dial(context.Background(), "ws://127.0.0.1:1/ws", "tok", Options{DialTimeout: time.Second})
	assert.ErrorIs(t, err, domain.ErrResourceUnavailable)
}

func TestClient_OnEvent(t *testing.T) {
	g := startGateway(t, nil)

	events := make(chan domain.Event, 16)
	c := dialTest(t, g, Options{OnEvent: func(_ context.Context, e domain.Event) { events <- e }})

	_, err := c.CreateDevice("NoUGPIO", 11)
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, domain.EventDeviceCreated, e.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no event forwarded")
	}
}
