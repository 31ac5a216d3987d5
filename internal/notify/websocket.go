package notify

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS layer in front of
	// the socket routes.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionHandler returns a gin handler that upgrades the request to a
// WebSocket, subscribes with the value of pathParam as filter, and
// pumps matching notification payloads to the client as text frames.
// Disconnects of any kind route through the same unsubscribe path, so
// the channel listener shuts down once the last session closes.
func SessionHandler(p *Publisher, pathParam string) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := c.Param(pathParam)
		if filter == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + pathParam})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "channel", p.Channel(), "error", err)
			return
		}

		sub := p.Subscribe(filter)
		slog.Info("subscriber joined", "channel", p.Channel(), "filter", filter)

		go writePump(p, sub, conn)
		readPump(p, sub, conn)
	}
}

// readPump drains inbound frames until the peer disconnects. Clients
// never send meaningful data; reading is how we notice the close.
func readPump(p *Publisher, sub *Subscriber, conn *websocket.Conn) {
	defer func() {
		p.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("subscriber read failed", "channel", p.Channel(), "error", err)
			}
			return
		}
	}
}

// writePump forwards matched payloads and keepalive pings. A send
// error ends only this session.
func writePump(p *Publisher, sub *Subscriber, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				slog.Warn("subscriber write failed", "channel", p.Channel(), "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
