package client

import (
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"aegis/internal/domain"
)

// Conn owns the single WebSocket to the analysis server. It dials on
// Start, decodes every text frame into a workflow event, and after any
// disconnect schedules exactly one reconnect attempt after a fixed
// delay, forever. There is no backoff and no attempt cap.
type Conn struct {
	url    string
	origin string
	delay  time.Duration
	logger *log.Logger

	mu        sync.Mutex
	ws        *websocket.Conn
	connected bool
	closed    bool
	pending   bool

	stateObservers []func(connected bool)
	eventObservers []func(ev domain.Event)
}

// NewConn builds a connection manager for the server at baseURL
// (http:// or https://; the /ws path is appended here).
func NewConn(baseURL string, delay time.Duration, logger *log.Logger) *Conn {
	if delay <= 0 {
		delay = 3 * time.Second
	}
	return &Conn{
		url:    wsURL(baseURL),
		origin: baseURL,
		delay:  delay,
		logger: logger,
	}
}

// OnStateChange registers an observer for connect/disconnect edges.
func (c *Conn) OnStateChange(fn func(connected bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateObservers = append(c.stateObservers, fn)
}

// OnEvent registers an observer for decoded workflow events.
func (c *Conn) OnEvent(fn func(ev domain.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventObservers = append(c.eventObservers, fn)
}

func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Start launches the first dial. It returns immediately; connection
// state is reported through the observers.
func (c *Conn) Start() {
	go c.dial()
}

// Close tears the connection down and cancels any pending reconnect.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
}

func (c *Conn) dial() {
	ws, err := websocket.Dial(c.url, "", c.origin)
	if err != nil {
		c.logger.Printf("ws dial %s: %v", c.url, err)
		c.scheduleReconnect()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.connected = true
	c.mu.Unlock()
	c.notifyState(true)

	c.readLoop(ws)

	c.mu.Lock()
	c.connected = false
	c.ws = nil
	closed := c.closed
	c.mu.Unlock()
	c.notifyState(false)

	if !closed {
		c.scheduleReconnect()
	}
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		var raw string
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			c.logger.Printf("ws receive: %v", err)
			_ = ws.Close()
			return
		}
		var ev domain.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			// Malformed frames are dropped, never fatal.
			c.logger.Printf("ws drop malformed frame: %v", err)
			continue
		}
		c.notifyEvent(ev)
	}
}

// scheduleReconnect arms the retry timer unless one is already armed
// or the connection was closed for good.
func (c *Conn) scheduleReconnect() {
	c.mu.Lock()
	if c.closed || c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = true
	c.mu.Unlock()

	time.AfterFunc(c.delay, func() {
		c.mu.Lock()
		c.pending = false
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			c.dial()
		}
	})
}

func (c *Conn) notifyState(connected bool) {
	c.mu.Lock()
	observers := make([]func(bool), len(c.stateObservers))
	copy(observers, c.stateObservers)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(connected)
	}
}

func (c *Conn) notifyEvent(ev domain.Event) {
	c.mu.Lock()
	observers := make([]func(domain.Event), len(c.eventObservers))
	copy(observers, c.eventObservers)
	c.mu.Unlock()
	for _, fn := range observers {
		fn(ev)
	}
}

func wsURL(base string) string {
	url := strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/ws"
}
