package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-rooms/pkg/gateway/bots/registry"
)

const watchWriteTimeout = 5 * time.Second

// WatchHandler serves GET /daily/status/{worker_id}/watch. It pushes the
// worker's status once on connect and again when the worker exits, then
// closes the socket. Clients never need to poll.
type WatchHandler struct {
	Sessions     Sessions
	PingInterval time.Duration
	Logger       *slog.Logger
}

func (h WatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := parseWorkerID(w, r)
	if !ok {
		return
	}
	// Resolve before upgrading so unknown IDs get a plain 404.
	watch, err := h.Sessions.Watch(id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	info := watch.Info()

	// CORS is enforced by middleware for the HTTP surface; the watch carries
	// no credentials, so any origin may subscribe.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := writeStatus(conn, statusFrom(info)); err != nil {
		return
	}
	if info.Status.Terminal() {
		closeWatch(conn, info.Status)
		return
	}

	// Drain inbound frames so control frames are processed and a client
	// close is noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	interval := h.PingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-watch.Done:
			// Read from the handle: the sweep may already have dropped the
			// registry entry.
			final := watch.Info()
			if err := writeStatus(conn, statusFrom(final)); err != nil {
				return
			}
			closeWatch(conn, final.Status)
			return
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteTimeout)); err != nil {
				if h.Logger != nil {
					h.Logger.Debug("status watch ping failed", "worker_id", id, "error", err)
				}
				return
			}
		}
	}
}

func writeStatus(conn *websocket.Conn, s statusResponse) error {
	_ = conn.SetWriteDeadline(time.Now().Add(watchWriteTimeout))
	return conn.WriteJSON(s)
}

func closeWatch(conn *websocket.Conn, status registry.Status) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(status)),
		time.Now().Add(watchWriteTimeout))
}
