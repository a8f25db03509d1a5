// internal/hub/client.go
package hub

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/erilali/chatrelay/internal/bus"
	"github.com/erilali/chatrelay/internal/logger"
	"github.com/erilali/chatrelay/internal/message"
)

// State is the lifecycle position of a Client.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Client drives one connection: the read pump decodes and applies inbound
// messages in order, the write pump forwards bus traffic once the client
// has a session.
type Client struct {
	hub     *Hub
	conn    Conn
	log     *logger.Logger
	limiter *rate.Limiter

	// writeMu serialises writes to conn. It is also held while the session
	// is established so the acks go out before any bus traffic.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	sessionID uuid.UUID
	username  string
	sub       *bus.Subscription

	writerDone chan struct{}
	closeOnce  sync.Once
}

func newClient(h *Hub, conn Conn) *Client {
	rl := h.opts.RateLimit
	limit := rate.Limit(float64(rl.Burst) / rl.RefillInterval.Std().Seconds())
	return &Client{
		hub:     h,
		conn:    conn,
		log:     h.Logger.WithField("remote", conn.RemoteAddr()),
		limiter: rate.NewLimiter(limit, rl.Burst),
		state:   StateUnauthenticated,
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) session() (uuid.UUID, string, State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.username, c.state
}

func (c *Client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer c.teardown()
	defer cancel()

	c.log.LogEvent("info", "client_connected", "", c.conn.RemoteAddr())

	stop := context.AfterFunc(ctx, c.closeConn)
	defer stop()

	c.readPump(ctx, cancel)
}

// readPump processes inbound messages one at a time until the transport
// fails or the client reaches Closed.
func (c *Client) readPump(ctx context.Context, cancel context.CancelFunc) {
	for {
		data, err := c.conn.ReadMessage()
		if err != nil {
			if !isClosedError(err) && ctx.Err() == nil {
				_, username, _ := c.session()
				c.log.LogEvent("error", "read_error", username, err.Error())
			}
			return
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}

		if !c.limiter.Allow() {
			if c.replyError(errRateLimited) != nil {
				return
			}
			continue
		}

		if done := c.handle(ctx, cancel, data); done {
			return
		}
	}
}

// writePump forwards bus messages to the connection until the
// subscription closes, ctx ends or a write fails. A failed write cancels
// the client.
func (c *Client) writePump(ctx context.Context, cancel context.CancelFunc, sub *bus.Subscription) {
	defer close(c.writerDone)
	defer cancel()

	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if err := c.deliver(msg); err != nil {
			c.log.Warnf("Write failed, closing connection: %v", err)
			return
		}
	}
}

// deliver writes a bus message unless it is the client's own chat text.
// System notices are delivered to everyone, the originator included.
func (c *Client) deliver(msg message.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_, username, state := c.session()
	if state != StateAuthenticated {
		return nil
	}
	if msg.Kind == message.KindTextDelivered && !msg.IsSystem() && msg.Sender == username {
		return nil
	}
	return c.writeLocked(msg)
}

// reply writes a direct response to this client only.
func (c *Client) reply(msgs ...message.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, msg := range msgs {
		if err := c.writeLocked(msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) replyError(err error) error {
	notice := noticeFor(err)
	body, _ := notice.ErrorBody()
	c.hub.Metrics.ErrorNotice(body.Code)
	c.log.Debugf("Replying %d: %s", body.Code, body.Detail)
	return c.reply(notice)
}

func (c *Client) writeLocked(msg message.Message) error {
	data, err := message.Encode(msg)
	if err != nil {
		return err
	}
	return c.conn.WriteMessage(data)
}

// startSession records the admitted session, subscribes to the bus and
// starts the write pump. The caller holds writeMu until the acks are out.
func (c *Client) startSession(ctx context.Context, cancel context.CancelFunc, id uuid.UUID, username string) {
	sub := c.hub.Bus.Subscribe()

	c.mu.Lock()
	c.sessionID = id
	c.username = username
	c.state = StateAuthenticated
	c.sub = sub
	c.writerDone = make(chan struct{})
	c.mu.Unlock()

	c.log = c.log.WithField("username", username)
	go c.writePump(ctx, cancel, sub)
}

// removeSession deregisters the session, if the client still has one, and
// moves the client to Closed. Only the first call reports ok.
func (c *Client) removeSession() (string, bool) {
	c.mu.Lock()
	id, state := c.sessionID, c.state
	c.state = StateClosed
	c.mu.Unlock()
	if state != StateAuthenticated {
		return "", false
	}

	session, _ := c.hub.Registry.Lookup(id)
	username, ok := c.hub.Registry.Remove(id)
	if ok {
		c.hub.Metrics.SessionRemoved()
		c.log.Debugf("Session %s ended after %s", id, time.Since(session.ConnectedAt).Round(time.Millisecond))
	}
	return username, ok
}

func (c *Client) announceLeft(username string) {
	c.hub.publish(message.Notice(username + " left"))
	c.log.LogEvent("info", "user_left", username, "")
}

// teardown runs on every exit path: the subscription is released, the
// session deregistered and the connection closed.
func (c *Client) teardown() {
	c.closeConn()

	c.mu.Lock()
	sub, writerDone := c.sub, c.writerDone
	c.mu.Unlock()
	if sub != nil {
		sub.Close()
		<-writerDone
	}

	if username, ok := c.removeSession(); ok {
		c.announceLeft(username)
	}
	c.log.LogEvent("info", "client_disconnected", "", c.conn.RemoteAddr())
}

func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

func isClosedError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
