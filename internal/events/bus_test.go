package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testEvent is a simple event implementation for testing.
type testEvent struct {
	id        int
	connID    uint64
	timestamp time.Time
}

func (e testEvent) Type() EventType      { return EventMessageDispatched }
func (e testEvent) ConnID() uint64       { return e.connID }
func (e testEvent) Timestamp() time.Time { return e.timestamp }

func newTestEvent(id int, connID uint64) testEvent {
	return testEvent{id: id, connID: connID, timestamp: time.Now()}
}

func TestBus_BasicPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	received := make(chan Event, 1)
	bus.Subscribe(func(e Event) {
		received <- e
	})

	event := newTestEvent(1, 1)
	bus.Publish(event)

	select {
	case got := <-received:
		te := got.(testEvent)
		if te.id != 1 {
			t.Errorf("expected event id 1, got %d", te.id)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)
		bus.Subscribe(func(e Event) {
			count.Add(1)
			wg.Done()
		})
	}

	bus.Publish(newTestEvent(1, 1))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if count.Load() != 3 {
			t.Errorf("expected 3 handlers called, got %d", count.Load())
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout: only %d handlers called", count.Load())
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var count atomic.Int32

	unsubscribe := bus.Subscribe(func(e Event) {
		count.Add(1)
	})

	bus.Publish(newTestEvent(1, 1))
	time.Sleep(50 * time.Millisecond)

	if count.Load() != 1 {
		t.Fatalf("expected count 1 before unsubscribe, got %d", count.Load())
	}

	unsubscribe()

	bus.Publish(newTestEvent(2, 1))
	time.Sleep(50 * time.Millisecond)

	if count.Load() != 1 {
		t.Errorf("expected count 1 after unsubscribe, got %d", count.Load())
	}
}

func TestBus_ChannelOverflow_DropsWithoutBlocking(t *testing.T) {
	// No run() goroutine started: simulates a consumer that never drains.
	bus := &Bus{
		handlers: make([]Handler, 0),
		ch:       make(chan Event, 10),
		done:     make(chan struct{}),
	}

	for i := 0; i < 20; i++ {
		bus.Publish(newTestEvent(i, 1))
	}

	if len(bus.ch) != 10 {
		t.Fatalf("expected channel to be full at capacity 10, got %d", len(bus.ch))
	}
	if got := bus.Dropped(); got != 10 {
		t.Fatalf("expected 10 dropped events, got %d", got)
	}

	bus.Close()
}

func TestBus_EventOrdering(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	const numEvents = 50
	received := make([]int, 0, numEvents)
	var mu sync.Mutex
	done := make(chan struct{})

	bus.Subscribe(func(e Event) {
		te := e.(testEvent)
		mu.Lock()
		received = append(received, te.id)
		if len(received) == numEvents {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < numEvents; i++ {
		bus.Publish(newTestEvent(i, 1))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		mu.Lock()
		t.Fatalf("timeout: only received %d of %d events", len(received), numEvents)
		mu.Unlock()
	}

	mu.Lock()
	defer mu.Unlock()
	for i, id := range received {
		if id != i {
			t.Errorf("event %d out of order: expected id %d, got %d", i, i, id)
		}
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	const numGoroutines = 5
	const eventsPerGoroutine = 10
	totalEvents := numGoroutines * eventsPerGoroutine

	var receivedCount atomic.Int32
	done := make(chan struct{})

	bus.Subscribe(func(e Event) {
		if receivedCount.Add(1) == int32(totalEvents) {
			close(done)
		}
	})

	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for i := 0; i < eventsPerGoroutine; i++ {
				bus.Publish(newTestEvent(goroutineID*100+i, uint64(goroutineID)))
			}
		}(g)
	}

	wg.Wait()

	select {
	case <-done:
		if receivedCount.Load() != int32(totalEvents) {
			t.Errorf("expected %d events, got %d", totalEvents, receivedCount.Load())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout: only received %d of %d events", receivedCount.Load(), totalEvents)
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe(func(e Event) {
		time.Sleep(100 * time.Millisecond)
	})

	start := time.Now()
	for i := 0; i < 10; i++ {
		bus.Publish(newTestEvent(i, 1))
	}
	elapsed := time.Since(start)

	if elapsed > 50*time.Millisecond {
		t.Errorf("publishing took too long (%v), suggests blocking", elapsed)
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()

	received := make(chan Event, 1)
	bus.Subscribe(func(e Event) {
		received <- e
	})

	bus.Publish(newTestEvent(1, 1))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event before close")
	}

	bus.Close()
	time.Sleep(50 * time.Millisecond)

	// Publish after close should not panic.
	bus.Publish(newTestEvent(2, 1))
}

func TestBus_ConnectionLifecycleEvents(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var opened, paused, resumed, closed atomic.Int32
	done := make(chan struct{})

	bus.Subscribe(func(e Event) {
		switch e.Type() {
		case EventConnectionOpened:
			opened.Add(1)
		case EventPaused:
			paused.Add(1)
		case EventResumed:
			resumed.Add(1)
		case EventConnectionClosed:
			closed.Add(1)
			close(done)
		}
	})

	bus.Publish(NewConnectionOpenedEvent(1, "127.0.0.1:9999"))
	bus.Publish(NewPausedEvent(1))
	bus.Publish(NewResumedEvent(1))
	bus.Publish(NewConnectionClosedEvent(1, "peer reset"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for lifecycle events")
	}

	for name, got := range map[string]*atomic.Int32{"opened": &opened, "paused": &paused, "resumed": &resumed, "closed": &closed} {
		if got.Load() != 1 {
			t.Errorf("%s: expected 1, got %d", name, got.Load())
		}
	}
}

func ExampleBus_Subscribe() {
	bus := NewBus()
	defer bus.Close()

	done := make(chan struct{})
	bus.Subscribe(func(e Event) {
		fmt.Println(e.Type())
		close(done)
	})
	bus.Publish(NewHandlerErrorEvent(1, "post", fmt.Errorf("boom")))
	<-done
	// Output: handler_error
}
