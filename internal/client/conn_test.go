package client

import (
	"encoding/json"
	"log"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"aegis/internal/domain"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "test ", log.LstdFlags)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestConnReceivesDecodedEvents(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		frame, _ := json.Marshal(domain.Event{Kind: domain.EventWorkflowStarted})
		_ = websocket.Message.Send(ws, string(frame))
		var hold string
		_ = websocket.Message.Receive(ws, &hold)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var events []domain.Event
	var connectedEdges []bool

	conn := NewConn(srv.URL, 50*time.Millisecond, testLogger())
	conn.OnEvent(func(ev domain.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	conn.OnStateChange(func(connected bool) {
		mu.Lock()
		connectedEdges = append(connectedEdges, connected)
		mu.Unlock()
	})
	conn.Start()
	defer conn.Close()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	if events[0].Kind != domain.EventWorkflowStarted {
		t.Fatalf("event kind=%s want=%s", events[0].Kind, domain.EventWorkflowStarted)
	}
	if len(connectedEdges) == 0 || !connectedEdges[0] {
		t.Fatalf("expected connected=true notification first, got %v", connectedEdges)
	}
}

func TestConnDropsMalformedFrames(t *testing.T) {
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		_ = websocket.Message.Send(ws, "{not json")
		_ = websocket.Message.Send(ws, `"a string, not an object"`)
		frame, _ := json.Marshal(domain.Event{Kind: domain.EventPong})
		_ = websocket.Message.Send(ws, string(frame))
		var hold string
		_ = websocket.Message.Receive(ws, &hold)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var events []domain.Event

	conn := NewConn(srv.URL, 50*time.Millisecond, testLogger())
	conn.OnEvent(func(ev domain.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	conn.Start()
	defer conn.Close()

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 || events[0].Kind != domain.EventPong {
		t.Fatalf("expected only the valid frame, got %+v", events)
	}
}

func TestConnReconnectsAfterServerClose(t *testing.T) {
	var accepts atomic.Int64
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		accepts.Add(1)
		_ = ws.Close()
	}))
	defer srv.Close()

	conn := NewConn(srv.URL, 30*time.Millisecond, testLogger())
	conn.Start()
	defer conn.Close()

	waitFor(t, 3*time.Second, func() bool {
		return accepts.Load() >= 3
	})
}

func TestScheduleReconnectArmsSingleTimer(t *testing.T) {
	var accepts atomic.Int64
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		accepts.Add(1)
		var hold string
		_ = websocket.Message.Receive(ws, &hold)
	}))
	defer srv.Close()

	conn := NewConn(srv.URL, 50*time.Millisecond, testLogger())
	defer conn.Close()

	// Several close notifications in a row must collapse into one
	// pending attempt.
	conn.scheduleReconnect()
	conn.scheduleReconnect()
	conn.scheduleReconnect()

	waitFor(t, 2*time.Second, func() bool {
		return accepts.Load() >= 1
	})
	time.Sleep(150 * time.Millisecond)
	if got := accepts.Load(); got != 1 {
		t.Fatalf("dial attempts=%d want=1", got)
	}
}

func TestConnCloseCancelsReconnect(t *testing.T) {
	var accepts atomic.Int64
	srv := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		accepts.Add(1)
		var hold string
		_ = websocket.Message.Receive(ws, &hold)
	}))
	defer srv.Close()

	conn := NewConn(srv.URL, 30*time.Millisecond, testLogger())
	conn.scheduleReconnect()
	conn.Close()

	time.Sleep(120 * time.Millisecond)
	if got := accepts.Load(); got != 0 {
		t.Fatalf("dial attempts after close=%d want=0", got)
	}
}
