// internal/hub/tcp.go
package hub

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"
)

const lineWriteDeadline = 10 * time.Second

// lineConn frames messages as newline-terminated JSON over a stream.
type lineConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
	writeMu sync.Mutex
}

// NewLineConn wraps conn in the line protocol. Lines longer than
// maxMessageSize fail the read and end the connection.
func NewLineConn(conn net.Conn, maxMessageSize int64) Conn {
	scanner := bufio.NewScanner(conn)
	initial := 4096
	if int64(initial) > maxMessageSize {
		initial = int(maxMessageSize)
	}
	// the scanner needs room for the newline as well
	scanner.Buffer(make([]byte, 0, initial), int(maxMessageSize)+1)
	return &lineConn{conn: conn, scanner: scanner}
}

func (l *lineConn) ReadMessage() ([]byte, error) {
	if !l.scanner.Scan() {
		if err := l.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	line := l.scanner.Bytes()
	out := make([]byte, len(line))
	copy(out, line)
	return out, nil
}

func (l *lineConn) WriteMessage(data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.conn.SetWriteDeadline(time.Now().Add(lineWriteDeadline))
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	_, err := l.conn.Write(buf)
	return err
}

func (l *lineConn) Close() error      { return l.conn.Close() }
func (l *lineConn) RemoteAddr() string { return l.conn.RemoteAddr().String() }

// ServeTCP runs a client for a raw TCP connection using the line protocol.
func (h *Hub) ServeTCP(ctx context.Context, conn net.Conn) {
	h.Serve(ctx, NewLineConn(conn, h.opts.MaxMessageSize))
}
