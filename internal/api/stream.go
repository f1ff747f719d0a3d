package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"content-orchestrator/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamHub relays per-project entity change events to websocket clients.
// Each connection gets its own redis subscription; delivery is best effort
// and clients are expected to poll as a backstop.
type StreamHub struct {
	notifier *notify.Redis
	upgrader websocket.Upgrader
}

// NewStreamHub builds the hub on top of the redis notifier.
func NewStreamHub(notifier *notify.Redis) *StreamHub {
	return &StreamHub{
		notifier: notifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and streams the project's events until the
// client disconnects or the subscription fails.
func (h *StreamHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub, err := h.notifier.Subscribe(r.Context(), projectID)
	if err != nil {
		log.Error().Err(err).Str("project_id", projectID).Msg("stream subscribe failed")
		_ = conn.Close()
		return
	}

	go h.writePump(conn, sub)
	h.readPump(conn)
	_ = sub.Close()
}

// readPump discards client frames and keeps the pong deadline fresh. Its
// return signals that the connection is gone.
func (h *StreamHub) readPump(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHub) writePump(conn *websocket.Conn, sub *notify.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription closed"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case err := <-sub.Errs():
			log.Warn().Err(err).Msg("stream subscription error")
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
