package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/leadfive/ledgerview/pkg/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket pushes the full state payload on connect and after every
// store change. Slow clients skip intermediate snapshots.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := make(chan store.Snapshot, sendBuffer)
	push := func(snap store.Snapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	}
	push(s.store.Snapshot())
	unsubscribe := s.store.Subscribe(push)
	defer unsubscribe()

	log := s.log.With().Str("remote", r.RemoteAddr).Logger()
	log.Debug().Msg("WebSocket client connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
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
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			log.Debug().Msg("WebSocket client disconnected")
			return
		case snap := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(s.stateResponse(snap)); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
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
