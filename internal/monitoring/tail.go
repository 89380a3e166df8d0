// Package monitoring - tail.go streams access log summaries to operators.
//
// DESIGN: A websocket fan-out. The access log worker calls Broadcast for every
// record it writes; each connected operator gets a JSON line. Slow or dead
// connections are dropped rather than allowed to back-pressure the worker.
package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

const tailWriteTimeout = 2 * time.Second

// Tail broadcasts access log events to connected websocket clients.
type Tail struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewTail creates an empty Tail.
func NewTail() *Tail {
	return &Tail{conns: make(map[*websocket.Conn]struct{})}
}

// Handler upgrades the request to a websocket and keeps it registered until
// the client goes away. The connection is read-discard only.
func (t *Tail) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("tail: websocket accept failed")
			return
		}

		t.mu.Lock()
		t.conns[conn] = struct{}{}
		t.mu.Unlock()

		// CloseRead discards inbound frames and returns a context that ends
		// when the client disconnects.
		ctx := conn.CloseRead(r.Context())
		<-ctx.Done()

		t.remove(conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

// Broadcast sends v as JSON to every connected client. Failures evict the
// connection; they never propagate to the caller.
func (t *Tail) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("tail: marshal failed")
		return
	}

	t.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), tailWriteTimeout)
		err := c.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			t.remove(c)
			_ = c.Close(websocket.StatusPolicyViolation, "write timeout")
		}
	}
}

// Close drops every connection.
func (t *Tail) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for c := range t.conns {
		_ = c.Close(websocket.StatusGoingAway, "shutting down")
	}
	t.conns = make(map[*websocket.Conn]struct{})
}

func (t *Tail) remove(c *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, c)
}
