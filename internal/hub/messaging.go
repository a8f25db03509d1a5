// internal/hub/messaging.go
package hub

import (
	"context"
	"errors"
	"strings"

	"github.com/erilali/chatrelay/internal/message"
	"github.com/erilali/chatrelay/internal/registry"
)

var (
	// ErrUnauthorized is returned for operations that need a session the
	// client does not have, or that claim someone else's name.
	ErrUnauthorized = errors.New("authentication required")
	// ErrSessionExists is returned for a Connect on an authenticated client.
	ErrSessionExists = errors.New("session already established")
	// ErrUnsupported is returned for kinds only the server may send.
	ErrUnsupported = errors.New("unsupported operation")

	errRateLimited = errors.New("rate limit exceeded")
)

// handle decodes, validates and applies one inbound message. It reports
// whether the client is done, either because it reached Closed or because
// a reply could not be written.
func (c *Client) handle(ctx context.Context, cancel context.CancelFunc, data []byte) bool {
	msg, err := message.Decode(data)
	if err != nil {
		return c.replyError(err) != nil
	}
	c.hub.Metrics.Received(msg.Kind.String())

	if err := message.Validate(msg); err != nil {
		return c.replyError(err) != nil
	}

	switch msg.Kind {
	case message.KindConnect:
		err = c.handleConnect(ctx, cancel, msg)
	case message.KindSendText:
		err = c.handleSendText(msg)
	case message.KindListUsers:
		err = c.handleListUsers(msg)
	case message.KindDisconnect:
		return c.handleDisconnect(msg)
	default:
		err = ErrUnsupported
	}

	if err == nil {
		return false
	}
	if errors.Is(err, errWriteFailed) {
		return true
	}
	return c.replyError(err) != nil
}

// errWriteFailed wraps a transport error hit while replying.
var errWriteFailed = errors.New("write failed")

func (c *Client) handleConnect(ctx context.Context, cancel context.CancelFunc, msg message.Message) error {
	body := msg.Payload.(message.ConnectPayload)
	username := body.Username

	if _, _, state := c.session(); state != StateUnauthenticated {
		return ErrSessionExists
	}
	if strings.EqualFold(username, message.SystemSender) {
		return &registry.AlreadyConnectedError{Username: username}
	}

	c.writeMu.Lock()
	id, err := c.hub.Registry.Admit(username)
	if err != nil {
		c.writeMu.Unlock()
		c.log.Infof("Connect refused for %s: %v", username, err)
		return err
	}
	c.hub.Metrics.SessionAdmitted()
	c.startSession(ctx, cancel, id, username)

	werr := c.writeLocked(message.ConnectAck())
	if werr == nil {
		werr = c.writeLocked(message.UserListing(c.hub.Registry.Usernames()))
	}
	c.writeMu.Unlock()

	// Announced even when the acks were lost: teardown always pairs an
	// admitted session with a leave notice.
	c.hub.publish(message.Notice(username + " joined"))
	c.log.LogEvent("info", "user_joined", username, "")
	if werr != nil {
		return errors.Join(errWriteFailed, werr)
	}
	return nil
}

func (c *Client) handleSendText(msg message.Message) error {
	username, err := c.authorize(msg)
	if err != nil {
		return err
	}
	text, _ := msg.Text()
	c.hub.publish(message.TextDelivered(username, text))
	c.log.LogEvent("debug", "message_received", username, text)
	return nil
}

func (c *Client) handleListUsers(msg message.Message) error {
	if _, err := c.authorize(msg); err != nil {
		return err
	}
	if err := c.reply(message.UserListing(c.hub.Registry.Usernames())); err != nil {
		return errors.Join(errWriteFailed, err)
	}
	return nil
}

// handleDisconnect always ends the client. Before a session exists it
// only answers 401 and keeps reading.
func (c *Client) handleDisconnect(msg message.Message) bool {
	if _, err := c.authorize(msg); err != nil {
		return c.replyError(err) != nil
	}

	username, ok := c.removeSession()
	if err := c.reply(message.DisconnectAck()); err != nil {
		c.log.Debugf("DisconnectAck not delivered: %v", err)
	}
	if ok {
		c.announceLeft(username)
	}
	return true
}

// authorize checks that the client has a session and that msg, when it
// names a sender, names this session's user.
func (c *Client) authorize(msg message.Message) (string, error) {
	_, username, state := c.session()
	if state != StateAuthenticated {
		return "", ErrUnauthorized
	}
	if msg.HasSender() && msg.Sender != username {
		return "", ErrUnauthorized
	}
	return username, nil
}

// noticeFor maps a handler error onto the ErrorNotice sent to the client.
func noticeFor(err error) message.Message {
	var (
		decodeErr   *message.DecodeError
		validateErr *message.ValidationError
		conflictErr *registry.AlreadyConnectedError
	)
	switch {
	case errors.As(err, &decodeErr):
		return message.ErrorNotice(message.CodeInvalidMessage, decodeErr.Error())
	case errors.As(err, &validateErr):
		return message.ErrorNotice(validateErr.Code, validateErr.Error())
	case errors.As(err, &conflictErr):
		return message.ErrorNotice(message.CodeUserExists, conflictErr.Error())
	case errors.Is(err, ErrUnauthorized):
		return message.ErrorNotice(message.CodeUnauthorized, err.Error())
	case errors.Is(err, ErrSessionExists), errors.Is(err, ErrUnsupported):
		return message.ErrorNotice(message.CodeInvalidMessage, err.Error())
	case errors.Is(err, errRateLimited):
		return message.ErrorNotice(message.CodeRateLimited, err.Error())
	}
	return message.ErrorNotice(message.CodeInternalError, "internal server error")
}
