package feed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultPollInterval is how long a feed endpoint sleeps when the queue is empty.
const DefaultPollInterval = 100 * time.Millisecond

// SSEHandler serves the queue as a Server-Sent Events stream. The response
// never ends on its own: it polls q every interval and writes each drained
// line as one "data:" event until the client disconnects or the server
// shuts down.
func SSEHandler(q Drainer, interval time.Duration, logger *slog.Logger) http.HandlerFunc {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		flusher, _ := w.(http.Flusher)
		if flusher != nil {
			flusher.Flush()
		}

		logger.Info("Live feed client connected", "transport", "sse", "remoteAddr", r.RemoteAddr)
		defer logger.Info("Live feed client disconnected", "transport", "sse", "remoteAddr", r.RemoteAddr)

		err := drainLoop(r.Context(), q, interval, func(line Line) error {
			_, err := fmt.Fprintf(w, "data: %s\n\n", eventData(line.Text))
			return err
		}, func() {
			if flusher != nil {
				flusher.Flush()
			}
		})
		if err != nil && r.Context().Err() == nil {
			logger.Debug("Live feed write failed", "transport", "sse", "error", err)
		}
	}
}

// drainLoop polls q every interval and hands each line to send until ctx
// is done or send fails. flush runs after every pass that sent a line.
// Nothing is drained once ctx is done.
func drainLoop(ctx context.Context, q Drainer, interval time.Duration, send func(Line) error, flush func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sent := 0
		for ctx.Err() == nil {
			line, ok := q.TryDrain()
			if !ok {
				break
			}
			if err := send(line); err != nil {
				return err
			}
			sent++
		}
		if sent > 0 && flush != nil {
			flush()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// eventData keeps a line inside a single SSE data field.
func eventData(text string) string {
	if !strings.ContainsAny(text, "\r\n") {
		return text
	}
	return strings.NewReplacer("\r", "", "\n", " ").Replace(text)
}
