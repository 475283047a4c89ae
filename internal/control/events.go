package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// eventConn is the subset of *websocket.Conn the hub uses.
type eventConn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// EventHub fans session and pipeline events out to connected UI clients
// over WebSocket. Clients whose connection fails on write are dropped,
// never waited on.
type EventHub struct {
	logger *slog.Logger

	mu    sync.Mutex
	conns map[string]eventConn
}

// NewEventHub creates an empty hub.
func NewEventHub(logger *slog.Logger) *EventHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventHub{
		logger: logger,
		conns:  make(map[string]eventConn),
	}
}

// Broadcast sends one event to every connected client.
func (h *EventHub) Broadcast(event string, payload any) {
	data, err := json.Marshal(map[string]any{"type": event, "data": payload})
	if err != nil {
		h.logger.Warn("Event marshal failed", "event", event, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		if err := conn.Write(context.Background(), websocket.MessageText, data); err != nil {
			h.logger.Debug("Event write failed, dropping client", "client_id", id, "error", err)
			_ = conn.Close(websocket.StatusAbnormalClosure, "write failed")
			delete(h.conns, id)
		}
	}
}

// ServeHTTP upgrades the connection and holds it open until the client
// goes away.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err)
		return
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.conns[id] = ws
	h.mu.Unlock()
	h.logger.Info("Event client connected", "client_id", id)

	defer func() {
		h.mu.Lock()
		delete(h.conns, id)
		h.mu.Unlock()
		_ = ws.Close(websocket.StatusNormalClosure, "session ended")
		h.logger.Info("Event client disconnected", "client_id", id)
	}()

	// Clients only listen; the read loop just detects disconnect.
	for {
		if _, _, err := ws.Read(r.Context()); err != nil {
			return
		}
	}
}
