package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "fit.started", Data: map[string]string{"run_id": "abc"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: fit.started") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"run_id":"abc"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestPublishFitEvent_ProgressThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishFitEvent("fit.started", "r1", map[string]any{"parameters": 2})
	// Only the first progress event of a run within the window goes out.
	b.PublishFitEvent("fit.progress", "r1", map[string]any{"step": 1})
	b.PublishFitEvent("fit.progress", "r1", map[string]any{"step": 2})
	// Throttling is per run.
	b.PublishFitEvent("fit.progress", "r2", map[string]any{"step": 1})
	b.PublishFitEvent("fit.completed", "r1", nil)

	time.Sleep(50 * time.Millisecond)
	msgs := drain(ch)

	progress := 0
	for _, m := range msgs {
		if strings.Contains(m, "event: fit.progress") {
			progress++
		}
	}
	if progress != 2 {
		t.Errorf("progress events = %d, want 2 (throttled)", progress)
	}
	if len(msgs) != 4 {
		t.Fatalf("events = %d, want 4: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], `"run_id":"r1"`) || !strings.Contains(msgs[0], `"parameters":2`) {
		t.Errorf("started payload = %q", msgs[0])
	}
	if !strings.Contains(msgs[3], "event: fit.completed") {
		t.Errorf("last event = %q", msgs[3])
	}
}

func TestPublishTemplatesChanged(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishTemplatesChanged("host/list.txt", 1)

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: templates.changed") || !strings.Contains(s, `"dropped":1`) {
			t.Errorf("unexpected message %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishFitEvent("fit.completed", "x", map[string]any{"acceptance": 0.4})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: fit.completed") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "fit.started", Data: map[string]string{"run_id": "x"}})
	b.PublishFitEvent("fit.progress", "x", nil)
	b.PublishTemplatesChanged("a.dat", 0)
}
