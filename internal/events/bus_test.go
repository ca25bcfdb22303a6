package events

import (
	"sync"
	"testing"
	"time"
)

// TestSubscribeAndPublish checks typed and all-event subscribers both fire
func TestSubscribeAndPublish(t *testing.T) {
	b := NewBus()

	var mu sync.Mutex
	var typed, all int
	done := make(chan struct{}, 2)

	b.Subscribe(EventAlertRaised, func(Event) {
		mu.Lock()
		typed++
		mu.Unlock()
		done <- struct{}{}
	})
	b.SubscribeAll(func(Event) {
		mu.Lock()
		all++
		mu.Unlock()
		done <- struct{}{}
	})

	b.PublishAlert(map[string]interface{}{"id": "a1"})

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not fire")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if typed != 1 || all != 1 {
		t.Errorf("typed=%d all=%d, want 1/1", typed, all)
	}
}

// TestTypeFiltering checks subscribers only see their event type
func TestTypeFiltering(t *testing.T) {
	b := NewBus()

	fired := make(chan EventType, 4)
	b.Subscribe(EventAlertResolved, func(e Event) { fired <- e.Type })

	b.PublishHealthUpdate(nil)
	b.PublishAlertResolved("a1")

	select {
	case typ := <-fired:
		if typ != EventAlertResolved {
			t.Errorf("got %s", typ)
		}
	case <-time.After(time.Second):
		t.Fatal("resolved subscriber did not fire")
	}

	select {
	case typ := <-fired:
		t.Errorf("unexpected extra event %s", typ)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestHealthUpdateFrame checks the dashboard frame carries a list of
// endpoint snapshots under "endpoints"
func TestHealthUpdateFrame(t *testing.T) {
	b := NewBus()

	got := make(chan Event, 1)
	b.Subscribe(EventHealthUpdate, func(e Event) { got <- e })
	b.PublishHealthUpdate(map[string]interface{}{"source": "fred", "endpoint": "obs"})

	select {
	case e := <-got:
		list, ok := e.Data["endpoints"].([]interface{})
		if !ok {
			t.Fatalf("frame should carry an endpoints list, got %+v", e.Data)
		}
		if len(list) != 1 {
			t.Errorf("want 1 snapshot, got %d", len(list))
		}
	case <-time.After(time.Second):
		t.Fatal("health subscriber did not fire")
	}
}

// TestTimestampDefault checks published events get a timestamp
func TestTimestampDefault(t *testing.T) {
	b := NewBus()

	got := make(chan Event, 1)
	b.Subscribe(EventErrorDetected, func(e Event) { got <- e })
	b.Publish(Event{Type: EventErrorDetected})

	select {
	case e := <-got:
		if e.Timestamp.IsZero() {
			t.Error("timestamp should be filled in")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not fire")
	}
}
