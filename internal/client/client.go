// internal/client/client.go
// Implements the interactive line-protocol client used by `chatrelay client`.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/erilali/chatrelay/internal/message"
)

const (
	dialTimeout = 5 * time.Second
	quitTimeout = 2 * time.Second
)

const helpText = `Commands:
  /list   show connected users
  /quit   disconnect and exit
  /help   show this help
Anything else is sent as a chat message.`

// Dial opens a TCP connection to a chat server.
func Dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

type session struct {
	conn     net.Conn
	username string
	out      io.Writer
	outMu    sync.Mutex
	writeMu  sync.Mutex
}

// Run logs in as username over conn, prints server traffic to out and sends
// each line read from in. It returns when in is exhausted, /quit is typed,
// ctx is cancelled or the server hangs up. conn is closed on return.
func Run(ctx context.Context, conn net.Conn, username string, in io.Reader, out io.Writer) error {
	defer conn.Close()
	s := &session{conn: conn, username: username, out: out}

	if err := s.send(message.Connect(username)); err != nil {
		return err
	}
	s.printf("Connecting to %s as %s. Type /help for commands.", conn.RemoteAddr(), username)

	serverDone := make(chan error, 1)
	go func() { serverDone <- s.readServer() }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return s.quit(serverDone)
		case err := <-serverDone:
			s.printf("Connection closed by server")
			return err
		case line, ok := <-lines:
			if !ok {
				return s.quit(serverDone)
			}
			switch {
			case line == "":
			case line == "/quit" || line == "/exit":
				return s.quit(serverDone)
			case line == "/help":
				s.printf("%s", helpText)
			case line == "/list":
				if err := s.send(message.ListUsers(username)); err != nil {
					return err
				}
			case strings.HasPrefix(line, "/"):
				s.printf("Unknown command %s, try /help", line)
			default:
				if err := s.send(message.SendText(username, line)); err != nil {
					return err
				}
			}
		}
	}
}

// quit says goodbye and waits briefly for the server to acknowledge.
func (s *session) quit(serverDone <-chan error) error {
	if err := s.send(message.Disconnect(s.username)); err != nil {
		return nil
	}
	select {
	case err := <-serverDone:
		return err
	case <-time.After(quitTimeout):
		return nil
	}
}

func (s *session) send(msg message.Message) error {
	data, err := message.Encode(msg)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send %s: %w", msg.Kind, err)
	}
	return nil
}

// readServer renders server messages until the connection ends. A clean
// close by the server is not an error.
func (s *session) readServer() error {
	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := message.Decode(line)
		if err != nil {
			s.printf("Unreadable message from server: %v", err)
			continue
		}
		s.render(msg)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *session) render(msg message.Message) {
	switch msg.Kind {
	case message.KindConnectAck:
		s.printf("Connected as %s", s.username)
	case message.KindDisconnectAck:
		s.printf("Disconnected")
	case message.KindTextDelivered:
		text, _ := msg.Text()
		stamp := msg.Timestamp.Local().Format("15:04:05")
		if msg.IsSystem() {
			s.printf("[%s] * %s", stamp, text)
		} else {
			s.printf("[%s] %s: %s", stamp, msg.Sender, text)
		}
	case message.KindUserListing:
		users, _ := msg.Usernames()
		s.printf("Users online (%d): %s", len(users), strings.Join(users, ", "))
	case message.KindErrorNotice:
		body, _ := msg.ErrorBody()
		s.printf("Error %d: %s", body.Code, body.Detail)
	default:
		s.printf("Unexpected %s message from server", msg.Kind)
	}
}

func (s *session) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}
