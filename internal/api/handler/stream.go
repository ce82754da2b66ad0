package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiranshivaraju/forge3d/internal/studio"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// NewStreamHandler returns an http.HandlerFunc for GET /api/v1/stream. Each
// state change is pushed to the socket as a JSON snapshot; a slow reader
// only ever sees the latest one. The socket closes when the session ends.
func NewStreamHandler(svc *studio.Service) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ws, ok := openWorkspace(w, r, svc)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", "user_id", ws.UserID(), "error", err)
			return
		}
		defer conn.Close()

		snapshots, unsubscribe := ws.Subscribe()
		defer unsubscribe()

		// the client never sends anything meaningful; reading only serves
		// to notice disconnects and answer pings
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			conn.SetReadLimit(512)
			conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()

		for {
			select {
			case <-gone:
				return

			case snap, ok := <-snapshots:
				if !ok {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(snap); err != nil {
					slog.Debug("websocket write failed", "user_id", ws.UserID(), "error", err)
					return
				}
				if !snap.Session.SignedIn {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "signed out"),
						time.Now().Add(writeWait))
					return
				}

			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}
}
