package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"nousim/internal/domain"
)

func newTestBus(opts ...Option) *Bus {
	return New(slog.Default(), opts...)
}

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now()}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventRegisterChanged, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventRegisterChanged {
			got.Add(1)
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventRegisterChanged))
	bus.Publish(context.Background(), newEvent(domain.EventDeviceClosed))
	bus.Close() // drain
	if got.Load() != 1 {
		t.Fatalf("expected 1, got %d", got.Load())
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventDeviceCreated))
	bus.Publish(context.Background(), newEvent(domain.EventRegisterCreated))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2, got %d", got.Load())
	}
}

func TestDeliveryOrderPerSubscriber(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	var seen []string
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		mu.Lock()
		seen = append(seen, e.ID)
		mu.Unlock()
	})

	var want []string
	for i := 0; i < 50; i++ {
		e := domain.NewRegisterEvent(domain.EventRegisterChanged, domain.RegisterEvent{Device: "NoUMotor[1]", Value: float64(i)})
		want = append(want, e.ID)
		bus.Publish(context.Background(), e)
	}
	bus.Close()

	assert.Equal(t, want, seen)
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventRegisterChanged, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventRegisterChanged))
	unsub()
	unsub() // idempotent
	bus.Publish(context.Background(), newEvent(domain.EventRegisterChanged))
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected 1 delivery before unsubscribe, got %d", got.Load())
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventRegisterChanged, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventRegisterChanged))
		}()
	}
	wg.Wait()
	bus.Close()

	if got.Load() != 100 {
		t.Fatalf("expected 100, got %d", got.Load())
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	bus := newTestBus(WithQueueSize(1))

	release := make(chan struct{})
	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		<-release
		got.Add(1)
	})

	for i := 0; i < 10; i++ {
		bus.Publish(context.Background(), newEvent(domain.EventRegisterChanged))
	}
	close(release)
	bus.Close()

	assert.Equal(t, uint64(10), uint64(got.Load())+bus.Dropped())
	assert.Positive(t, bus.Dropped())
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventRegisterChanged, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	bus.Subscribe(domain.EventRegisterChanged, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventRegisterChanged))
	bus.Publish(context.Background(), newEvent(domain.EventRegisterChanged))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2 (second handler), got %d", got.Load())
	}
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventRegisterChanged, func(_ context.Context, _ domain.Event) {
		time.Sleep(50 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventRegisterChanged))
	bus.Close() // should block until the handler finishes
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected handler to have run, got %d", got.Load())
	}

	bus.Publish(context.Background(), newEvent(domain.EventRegisterChanged))
	unsub := bus.SubscribeAll(func(_ context.Context, _ domain.Event) { got.Add(1) })
	unsub()
	time.Sleep(20 * time.Millisecond)
	if got.Load() != 1 {
		t.Fatalf("expected no delivery after close, got %d", got.Load())
	}
}
