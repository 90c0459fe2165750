package hub

import (
	"encoding/json"
	"log"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"aegis/internal/domain"
)

func TestPublishFansOut(t *testing.T) {
	h := New(4)
	id1, ch1 := h.Register()
	defer h.Unregister(id1)
	id2, ch2 := h.Register()
	defer h.Unregister(id2)

	h.Publish(domain.Event{Kind: domain.EventWorkflowStarted})

	for i, ch := range []<-chan domain.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Kind != domain.EventWorkflowStarted {
				t.Fatalf("subscriber %d kind=%s", i, ev.Kind)
			}
			if ev.Timestamp.IsZero() {
				t.Fatalf("publish must stamp the event")
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestSlowSubscriberDropsFrames(t *testing.T) {
	h := New(1)
	id, ch := h.Register()
	defer h.Unregister(id)

	h.Publish(domain.Event{Kind: domain.EventAgentStarted})
	h.Publish(domain.Event{Kind: domain.EventAgentCompleted}) // buffer full, dropped

	if h.Dropped() != 1 {
		t.Fatalf("dropped=%d want=1", h.Dropped())
	}
	ev := <-ch
	if ev.Kind != domain.EventAgentStarted {
		t.Fatalf("kind=%s want=%s", ev.Kind, domain.EventAgentStarted)
	}
}

func TestUnregisterClosesChannel(t *testing.T) {
	h := New(1)
	id, ch := h.Register()
	h.Unregister(id)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	// Double unregister is harmless.
	h.Unregister(id)
	if h.SubscriberCount() != 0 {
		t.Fatalf("subscribers=%d want=0", h.SubscriberCount())
	}
}

func TestHandlerGreetsForwardsAndPongs(t *testing.T) {
	h := New(8)
	logger := log.New(os.Stderr, "test ", log.LstdFlags)
	srv := httptest.NewServer(h.Handler(logger))
	defer srv.Close()

	ws, err := websocket.Dial("ws"+srv.URL[len("http"):], "", srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	readEvent := func() domain.Event {
		t.Helper()
		var raw string
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			t.Fatalf("receive: %v", err)
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			t.Fatalf("decode frame %q: %v", raw, err)
		}
		return ev
	}

	if ev := readEvent(); ev.Kind != domain.EventConnected {
		t.Fatalf("greeting kind=%s want=%s", ev.Kind, domain.EventConnected)
	}

	// Wait until the hub registered the subscriber before publishing.
	deadline := time.Now().Add(time.Second)
	for h.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.Publish(domain.Event{Kind: domain.EventWorkflowStarted, Agent: "orchestrator", Status: "STARTED"})
	if ev := readEvent(); ev.Kind != domain.EventWorkflowStarted {
		t.Fatalf("forwarded kind=%s want=%s", ev.Kind, domain.EventWorkflowStarted)
	}

	if err := websocket.Message.Send(ws, "ping"); err != nil {
		t.Fatalf("send ping: %v", err)
	}
	if ev := readEvent(); ev.Kind != domain.EventPong {
		t.Fatalf("reply kind=%s want=%s", ev.Kind, domain.EventPong)
	}
}
