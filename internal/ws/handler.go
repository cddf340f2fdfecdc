// Package ws serves the admin dashboard's live event stream: one outbound
// WebSocket per connection, no inbound command dispatch.
package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KKQ-KKQ/sfizz/internal/events"
	"github.com/KKQ-KKQ/sfizz/internal/transport/events/codec"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// Handler upgrades HTTP connections and streams Bus events to each one as
// binary codec frames, until the client disconnects.
type Handler struct {
	logger   *zap.Logger
	bus      *events.Bus
	upgrader websocket.Upgrader
}

// NewHandler wires a Handler against bus; logger may be nil.
func NewHandler(logger *zap.Logger, bus *events.Bus) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger: logger,
		bus:    bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handle upgrades the request and blocks until the connection closes.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id, ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(id)

	go h.drainReads(conn)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, codec.Pack(ev)); err != nil {
				h.logger.Debug("ws send failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainReads discards inbound frames; its only job is to notice the
// connection dying so Handle's write loop can stop promptly.
func (h *Handler) drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}
