package hub

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"aegis/internal/domain"
)

// Handler returns the /ws endpoint. Each connection receives a
// connected confirmation, then every event published to the hub as a
// JSON text frame. Inbound "ping" frames get a pong reply; everything
// else inbound is ignored.
func (h *Hub) Handler(logger *log.Logger) http.Handler {
	return websocket.Handler(func(ws *websocket.Conn) {
		id, events := h.Register()
		defer h.Unregister(id)

		greeting := domain.Event{
			Kind:      domain.EventConnected,
			Status:    "ok",
			Timestamp: time.Now().UTC(),
		}
		if err := sendEvent(ws, greeting); err != nil {
			logger.Printf("ws: send connected: %v", err)
			return
		}
		logger.Printf("ws: client %d connected", id)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				var raw string
				if err := websocket.Message.Receive(ws, &raw); err != nil {
					return
				}
				if strings.TrimSpace(raw) == "ping" {
					pong := domain.Event{Kind: domain.EventPong, Timestamp: time.Now().UTC()}
					if err := sendEvent(ws, pong); err != nil {
						return
					}
				}
			}
		}()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := sendEvent(ws, ev); err != nil {
					logger.Printf("ws: client %d send: %v", id, err)
					return
				}
			case <-done:
				logger.Printf("ws: client %d disconnected", id)
				return
			}
		}
	})
}

func sendEvent(ws *websocket.Conn, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.Kind, err)
	}
	return websocket.Message.Send(ws, string(payload))
}
