package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/tejashwikalptaru/pomelo/internal/domain"
	"github.com/tejashwikalptaru/pomelo/internal/logger"
)

// TestPublishSubscribe tests basic publish/subscribe functionality.
func TestPublishSubscribe(t *testing.T) {
	bus := NewSyncEventBus(nil)
	defer bus.Close()

	var received []domain.Event
	subID := bus.Subscribe(domain.EventStateChanged, func(e domain.Event) {
		received = append(received, e)
	})
	if subID == "" {
		t.Fatal("Subscribe returned empty subscription ID")
	}

	bus.Publish(domain.NewStateChangedEvent(domain.TransportIdle, domain.TransportLoading, "abc", ""))
	bus.Publish(domain.NewItemEndedEvent("abc"))

	if len(received) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(received))
	}
	e, ok := received[0].(domain.StateChangedEvent)
	if !ok {
		t.Fatalf("Expected StateChangedEvent, got %T", received[0])
	}
	if e.Current != domain.TransportLoading || e.ItemID != "abc" {
		t.Errorf("Unexpected event payload: %+v", e)
	}
}

// TestDeliveryOrder tests that typed handlers run before wildcard handlers.
func TestDeliveryOrder(t *testing.T) {
	bus := NewSyncEventBus(nil)
	defer bus.Close()

	var order []string
	bus.SubscribeAll(func(domain.Event) { order = append(order, "all") })
	bus.Subscribe(domain.EventItemEnded, func(domain.Event) { order = append(order, "first") })
	bus.Subscribe(domain.EventItemEnded, func(domain.Event) { order = append(order, "second") })

	bus.Publish(domain.NewItemEndedEvent("x"))

	want := []string{"first", "second", "all"}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, order)
		}
	}
}

// TestUnsubscribe tests removing handlers.
func TestUnsubscribe(t *testing.T) {
	bus := NewSyncEventBus(nil)
	defer bus.Close()

	var calls int
	id := bus.Subscribe(domain.EventItemEnded, func(domain.Event) { calls++ })
	allID := bus.SubscribeAll(func(domain.Event) { calls++ })

	bus.Unsubscribe(id)
	bus.Unsubscribe(allID)
	bus.Unsubscribe("sub-does-not-exist")
	bus.Publish(domain.NewItemEndedEvent("x"))

	if calls != 0 {
		t.Errorf("Expected no calls after unsubscribe, got %d", calls)
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", bus.SubscriberCount())
	}
}

// TestHasSubscribers tests subscriber lookup with and without wildcards.
func TestHasSubscribers(t *testing.T) {
	bus := NewSyncEventBus(nil)
	defer bus.Close()

	if bus.HasSubscribers(domain.EventDownloadProgress) {
		t.Error("Expected no subscribers on a new bus")
	}

	bus.Subscribe(domain.EventDownloadProgress, func(domain.Event) {})
	if !bus.HasSubscribers(domain.EventDownloadProgress) {
		t.Error("Expected subscribers for download progress")
	}
	if bus.HasSubscribers(domain.EventItemEnded) {
		t.Error("Expected no subscribers for item ended")
	}

	bus.SubscribeAll(func(domain.Event) {})
	if !bus.HasSubscribers(domain.EventItemEnded) {
		t.Error("Expected wildcard subscriber to count")
	}
}

// TestHandlerPanic tests that a panicking handler does not stop delivery.
func TestHandlerPanic(t *testing.T) {
	bus := NewSyncEventBus(logger.NewTestLogger())
	defer bus.Close()

	var called bool
	bus.Subscribe(domain.EventItemEnded, func(domain.Event) { panic("boom") })
	bus.Subscribe(domain.EventItemEnded, func(domain.Event) { called = true })

	bus.Publish(domain.NewItemEndedEvent("x"))

	if !called {
		t.Error("Second handler should run after first panicked")
	}
}

// TestClose tests closing semantics.
func TestClose(t *testing.T) {
	bus := NewSyncEventBus(nil)

	var calls int
	bus.Subscribe(domain.EventItemEnded, func(domain.Event) { calls++ })

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := bus.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}

	bus.Publish(domain.NewItemEndedEvent("x"))
	if calls != 0 {
		t.Errorf("Expected no delivery after close, got %d", calls)
	}

	defer func() {
		if recover() == nil {
			t.Error("Subscribe on a closed bus should panic")
		}
	}()
	bus.Subscribe(domain.EventItemEnded, func(domain.Event) {})
}

// TestNilHandlerPanics tests that nil handlers are rejected.
func TestNilHandlerPanics(t *testing.T) {
	bus := NewSyncEventBus(nil)
	defer bus.Close()

	defer func() {
		if recover() == nil {
			t.Error("Subscribe with nil handler should panic")
		}
	}()
	bus.Subscribe(domain.EventItemEnded, nil)
}

// TestNilEvent tests that publishing nil is ignored.
func TestNilEvent(t *testing.T) {
	bus := NewSyncEventBus(nil)
	defer bus.Close()

	bus.SubscribeAll(func(domain.Event) { t.Error("handler should not be called") })
	bus.Publish(nil)
}

// TestConcurrentPublishAndSubscribe tests thread safety.
func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewSyncEventBus(nil)
	defer bus.Close()

	var count int64
	bus.Subscribe(domain.EventDownloadProgress, func(domain.Event) {
		atomic.AddInt64(&count, 1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(domain.NewDownloadProgressEvent(domain.DownloadProgress{Downloaded: int64(j)}))
			}
		}()
		go func() {
			defer wg.Done()
			id := bus.Subscribe(domain.EventItemEnded, func(domain.Event) {})
			bus.Unsubscribe(id)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&count); got != 1000 {
		t.Errorf("Expected 1000 deliveries, got %d", got)
	}
}
