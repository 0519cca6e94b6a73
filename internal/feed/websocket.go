package feed

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single WebSocket frame write.
const writeWait = 10 * time.Second

// upgrader uses gorilla's default same-origin check.
var upgrader = websocket.Upgrader{}

// WebSocketHandler serves the queue over a WebSocket. Each drained line is
// sent as a JSON text frame ({"stream":...,"text":...}); the drain loop is
// shared with SSEHandler.
func WebSocketHandler(q Drainer, interval time.Duration, logger *slog.Logger) http.HandlerFunc {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		logger.Info("Live feed client connected", "transport", "websocket", "remoteAddr", conn.RemoteAddr())
		defer logger.Info("Live feed client disconnected", "transport", "websocket", "remoteAddr", conn.RemoteAddr())

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// The client never sends anything meaningful; reading is how a
		// close frame or a dropped connection is noticed.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		err = drainLoop(ctx, q, interval, func(line Line) error {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			return conn.WriteJSON(line)
		}, nil)
		if ctx.Err() == nil {
			logger.Debug("Live feed write failed", "transport", "websocket", "error", err)
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
	}
}
