// internal/hub/nats.go
package hub

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/erilali/chatrelay/internal/logger"
	"github.com/erilali/chatrelay/internal/message"
)

const (
	natsConnectTimeout = 2 * time.Second
	natsDrainTimeout   = 2 * time.Second
	// DefaultEventSubject is the subject prefix used when none is configured.
	DefaultEventSubject = "chat.events"
)

// NATSSink mirrors published chat events to core NATS subjects of the
// form <prefix>.<kind>. Nothing is persisted.
type NATSSink struct {
	Conn   *nats.Conn
	prefix string
	log    *logger.Logger
}

// ConnectNATS dials url and returns a sink, or an error if the server is
// unreachable. Callers are expected to run without a sink in that case.
func ConnectNATS(url, prefix string, log *logger.Logger) (*NATSSink, error) {
	if log == nil {
		log = logger.Nop()
	}
	nc, err := nats.Connect(url,
		nats.Name("chatrelay"),
		nats.Timeout(natsConnectTimeout),
		nats.DrainTimeout(natsDrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("Disconnected from NATS: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infof("Reconnected to NATS at %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return NewNATSSink(nc, prefix, log), nil
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(nc *nats.Conn, prefix string, log *logger.Logger) *NATSSink {
	if prefix == "" {
		prefix = DefaultEventSubject
	}
	if log == nil {
		log = logger.Nop()
	}
	return &NATSSink{Conn: nc, prefix: prefix, log: log}
}

// Subject returns the subject a message of kind is published on.
func (s *NATSSink) Subject(kind message.Kind) string {
	return s.prefix + "." + kind.String()
}

// Publish sends msg in its wire encoding.
func (s *NATSSink) Publish(msg message.Message) error {
	if s == nil || s.Conn == nil {
		return errors.New("nats sink not connected")
	}
	data, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", msg.Kind, err)
	}
	if err := s.Conn.Publish(s.Subject(msg.Kind), data); err != nil {
		return fmt.Errorf("publish %s event: %w", msg.Kind, err)
	}
	return nil
}

// Connected reports whether the underlying connection is up.
func (s *NATSSink) Connected() bool {
	return s != nil && s.Conn != nil && s.Conn.Status() == nats.CONNECTED
}

// Close flushes pending publishes and closes the connection.
func (s *NATSSink) Close() {
	if s == nil || s.Conn == nil {
		return
	}
	if err := s.Conn.Drain(); err != nil {
		s.log.Warnf("Error draining NATS connection: %v", err)
		s.Conn.Close()
	}
}
