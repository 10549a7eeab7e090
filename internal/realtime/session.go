package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pulsefeed/pulse-backend/internal/presence"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin filtering happens at the CORS layer; the handshake itself is
	// guarded by the bearer middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// session mediates between one websocket connection and the gateway. A
// connection becomes addressable for delivery only once the client announces
// its identity; until then it exists in the gateway's session map but not in
// the registry, so delivery lookups never reach it.
type session struct {
	gateway *Gateway
	connID  presence.ConnID
	conn    *websocket.Conn
	send    chan []byte
}

// readPump processes inbound events strictly in arrival order. Exiting the
// loop, for any reason, closes the session.
func (s *session) readPump() {
	defer func() {
		s.gateway.dropSession(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.gateway.logger.Warn("websocket read failed",
					zap.String("conn_id", string(s.connID)),
					zap.Error(err))
			}
			return
		}
		s.gateway.handleEvent(s, payload)
	}
}

// writePump drains the send buffer onto the wire and keeps the connection
// alive with periodic pings.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case payload := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
