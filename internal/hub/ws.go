// SPDX-License-Identifier: MIT

package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/frontlogic/taqbridge/internal/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 << 10
)

// WSHandler upgrades HTTP requests into push-channel connections.
type WSHandler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewWSHandler builds the websocket endpoint. An empty allowedOrigins list
// accepts same-origin requests only.
func NewWSHandler(h *Hub, allowedOrigins []string) *WSHandler {
	ws := &WSHandler{
		hub:    h,
		logger: log.WithComponent("ws"),
	}
	ws.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]bool, len(allowedOrigins))
		wildcard := false
		for _, o := range allowedOrigins {
			if o == "*" {
				wildcard = true
			}
			allowed[o] = true
		}
		ws.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || wildcard {
				return true
			}
			return allowed[origin]
		}
	}
	return ws
}

func (ws *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := ws.hub.Register()
	go ws.writePump(conn, sock)
	ws.readPump(conn, sock)
}

// readPump consumes inbound events until the peer goes away. A normal
// closure counts as a deliberate goodbye; everything else is abrupt and
// starts the reconnect grace.
func (ws *WSHandler) readPump(conn *Conn, sock *websocket.Conn) {
	defer func() { _ = sock.Close() }()

	sock.SetReadLimit(maxMessageSize)
	_ = sock.SetReadDeadline(time.Now().Add(pongWait))
	sock.SetPongHandler(func(string) error {
		return sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			deliberate := websocket.IsCloseError(err, websocket.CloseNormalClosure)
			ws.hub.Disconnect(conn, deliberate)
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil || ev.Name == "" {
			ws.logger.Debug().
				Str(log.FieldConnectionID, conn.ID).
				Msg("unparseable event frame dropped")
			continue
		}
		ws.hub.HandleEvent(conn, ev)
	}
}

// writePump drains the connection's send channel onto the socket and keeps
// the peer alive with pings.
func (ws *WSHandler) writePump(conn *Conn, sock *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = sock.Close()
	}()

	for {
		select {
		case ev, ok := <-conn.Send:
			_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := sock.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
