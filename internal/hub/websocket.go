// internal/hub/websocket.go
package hub

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erilali/chatrelay/internal/logger"
)

const (
	webSocketReadDeadline  = 60 * time.Second
	webSocketWriteDeadline = 10 * time.Second
	webSocketPingPeriod    = (webSocketReadDeadline * 9) / 10 // Must be less than readDeadline
)

// wsConn carries one message per text frame and keeps the connection alive
// with pings. Pings go through WriteControl, which gorilla allows
// concurrently with WriteMessage.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, maxMessageSize int64) *wsConn {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
		return nil
	})

	w := &wsConn{conn: conn, done: make(chan struct{})}
	go w.keepalive()
	return w
}

func (w *wsConn) keepalive() {
	ticker := time.NewTicker(webSocketPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(webSocketWriteDeadline)
			if err := w.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				// Client connection is likely broken; the read side will notice.
				w.conn.Close()
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (w *wsConn) WriteMessage(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		w.conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(time.Second))
		err = w.conn.Close()
	})
	return err
}

func (w *wsConn) RemoteAddr() string { return w.conn.RemoteAddr().String() }

// ServeWs upgrades the HTTP connection to a WebSocket and runs a client on
// it until the connection ends.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.origins.allowed,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	h.Serve(r.Context(), newWSConn(conn, h.opts.MaxMessageSize))
}

// originPolicy decides which browser origins may open a WebSocket.
// Requests without an Origin header come from non-browser clients and are
// always let through.
type originPolicy struct {
	allowAll bool
	origins  map[string]struct{}
	log      *logger.Logger
}

func newOriginPolicy(origins []string, log *logger.Logger) originPolicy {
	p := originPolicy{origins: make(map[string]struct{}), log: log}
	if len(origins) == 0 {
		p.allowAll = true
		return p
	}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Warnf("Ignoring invalid origin in configuration: %q", origin)
			continue
		}
		p.origins[normalized] = struct{}{}
	}
	return p
}

func (p originPolicy) allowed(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.allowAll {
		return true
	}
	normalized, ok := normalizeOrigin(header)
	if ok {
		if _, exists := p.origins[normalized]; exists {
			return true
		}
	}
	p.log.Warnf("Blocked WebSocket connection from disallowed origin: %q", header)
	return false
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
