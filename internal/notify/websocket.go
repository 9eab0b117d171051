package notify

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeTimeout bounds how long a slow client can hold a write.
	writeTimeout = 5 * time.Second

	// pingInterval keeps idle connections alive through proxies.
	pingInterval = 30 * time.Second
)

// WSHandler upgrades HTTP requests to websocket connections and bridges
// them onto hub subscriptions. Each connected client receives every
// detection published while it is connected, subject to the hub's
// at-most-once drop policy.
type WSHandler struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a websocket handler for the hub. Origins are not
// restricted; the service fronts a browser dashboard served elsewhere.
func NewWSHandler(hub *Hub, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	sub := h.hub.Subscribe()

	h.logger.Info("Websocket subscriber connected",
		slog.String("remote", r.RemoteAddr),
		slog.Int("subscribers", h.hub.SubscriberCount()),
	)

	// Reader goroutine: drains client frames and detects disconnect.
	go func() {
		defer sub.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.writeLoop(conn, sub, r.RemoteAddr)
}

// writeLoop pushes hub events to the client until the subscription or
// connection ends.
func (h *WSHandler) writeLoop(conn *websocket.Conn, sub *Subscriber, remote string) {
	defer func() {
		sub.Close()
		conn.Close()
		h.logger.Info("Websocket subscriber disconnected",
			slog.String("remote", remote),
			slog.Int("subscribers", h.hub.SubscriberCount()),
		)
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-sub.C():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeTimeout))
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(Event{Event: EventNewDetection, Data: rec}); err != nil {
				h.logger.Warn("Websocket write failed",
					slog.String("remote", remote),
					slog.String("error", err.Error()),
				)
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
