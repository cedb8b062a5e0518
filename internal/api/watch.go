package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// The daemon binds to localhost for its own UI; cross-origin browser
// pages are not a consumer, so origins are not restricted here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Watch streams verification exchange events to the UI over a websocket
// so it can update without polling. The subscription ends when the
// client disconnects.
func (h *Handlers) Watch(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("watch upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, cancel := h.store.Watch()
	defer cancel()

	// Reader goroutine: we never expect client messages, but reading is
	// required to notice the close frame.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				h.log.Debug("watch write failed", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
