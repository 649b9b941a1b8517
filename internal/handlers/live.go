package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"postfeed/internal/feed"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = livePongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type liveMessage struct {
	Type string `json:"type"`
	Feed any    `json:"feed"`
}

// Live upgrades to a websocket and pushes the rendered feed: once on
// connect and again after every reload of the session's feed, whether it
// was caused by this client or by a change elsewhere. Client messages are
// ignored.
func (h *Feed) Live(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, stop := c.Watch()
	defer stop()

	// Reader: only needed for control frames and to notice the client leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(livePongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(livePongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() error {
		conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		return conn.WriteJSON(liveMessage{Type: "feed", Feed: c.View()})
	}
	if err := send(); err != nil {
		return
	}

	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return
		case _, open := <-updates:
			if !open {
				conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
				code, reason := closeFrame(c.Err())
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := send(); err != nil {
				slog.Debug("live feed write failed", "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// closeFrame picks the websocket close code and text for a closed feed.
func closeFrame(cause error) (int, string) {
	switch {
	case errors.Is(cause, feed.ErrSignedOut):
		return websocket.CloseNormalClosure, "signed out"
	case errors.Is(cause, feed.ErrNotAuthenticated):
		return websocket.CloseNormalClosure, "session expired"
	default:
		return websocket.CloseGoingAway, "feed closed"
	}
}
