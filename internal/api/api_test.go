package api

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erilali/chatrelay/internal/config"
	"github.com/erilali/chatrelay/internal/message"
)

const waitTimeout = 2 * time.Second

func testConfig() config.Config {
	cfg := config.Default()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = config.Duration(200 * time.Millisecond)
	return cfg
}

// startServer runs a server until the test ends.
func startServer(t *testing.T, cfg config.Config) *Server {
	t.Helper()
	s := New(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	select {
	case <-s.Ready():
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(waitTimeout):
		t.Fatal("server did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return s
}

type lineClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialLine(t *testing.T, s *Server) *lineClient {
	t.Helper()
	conn, err := net.Dial("tcp", s.TCPAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &lineClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *lineClient) send(msg message.Message) {
	c.t.Helper()
	data, err := message.Encode(msg)
	require.NoError(c.t, err)
	_, err = c.conn.Write(append(data, '\n'))
	require.NoError(c.t, err)
}

func (c *lineClient) next() message.Message {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(waitTimeout))
	line, err := c.reader.ReadBytes('\n')
	require.NoError(c.t, err)
	msg, err := message.Decode(line)
	require.NoError(c.t, err)
	return msg
}

func (c *lineClient) expectText(sender, text string) {
	c.t.Helper()
	msg := c.next()
	require.Equal(c.t, message.KindTextDelivered, msg.Kind, "got %+v", msg)
	got, _ := msg.Text()
	assert.Equal(c.t, sender, msg.Sender)
	assert.Equal(c.t, text, got)
}

func (c *lineClient) expectListing(names ...string) {
	c.t.Helper()
	msg := c.next()
	require.Equal(c.t, message.KindUserListing, msg.Kind, "got %+v", msg)
	got, _ := msg.Usernames()
	assert.Equal(c.t, names, got)
}

func TestChatOverTCP(t *testing.T) {
	s := startServer(t, testConfig())

	alice := dialLine(t, s)
	alice.send(message.Connect("alice"))
	assert.Equal(t, message.KindConnectAck, alice.next().Kind)
	alice.expectListing("alice")
	alice.expectText(message.SystemSender, "alice joined")

	bob := dialLine(t, s)
	bob.send(message.Connect("bob"))
	assert.Equal(t, message.KindConnectAck, bob.next().Kind)
	bob.expectListing("alice", "bob")
	bob.expectText(message.SystemSender, "bob joined")
	alice.expectText(message.SystemSender, "bob joined")

	bob.send(message.SendText("bob", "hi"))
	alice.expectText("bob", "hi")

	carol := dialLine(t, s)
	carol.send(message.Connect("alice"))
	notice := carol.next()
	require.Equal(t, message.KindErrorNotice, notice.Kind)
	body, _ := notice.ErrorBody()
	assert.Equal(t, message.CodeUserExists, body.Code)
	assert.Equal(t, []string{"alice", "bob"}, s.Hub.Registry.Usernames())

	// alice vanishes without saying goodbye
	alice.conn.Close()
	bob.expectText(message.SystemSender, "alice left")
	bob.send(message.ListUsers("bob"))
	bob.expectListing("bob")
}

func TestMalformedLineOverTCP(t *testing.T) {
	s := startServer(t, testConfig())
	c := dialLine(t, s)

	_, err := c.conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)
	msg := c.next()
	require.Equal(t, message.KindErrorNotice, msg.Kind)
	body, _ := msg.ErrorBody()
	assert.Equal(t, message.CodeInvalidMessage, body.Code)

	c.send(message.Connect("dave"))
	assert.Equal(t, message.KindConnectAck, c.next().Kind)
}

func TestHealthAndMetrics(t *testing.T) {
	s := startServer(t, testConfig())
	base := "http://" + s.HTTPAddr().String()

	c := dialLine(t, s)
	c.send(message.Connect("alice"))
	c.next()
	c.next()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, Version, health.Version)
	assert.Equal(t, 1, health.Sessions)
	require.Len(t, health.Users, 1)
	assert.Equal(t, "alice", health.Users[0].Username)
	assert.False(t, health.Users[0].ConnectedAt.IsZero())
	assert.NotEmpty(t, health.Users[0].Connected)
	assert.Equal(t, "disabled", health.NATS)

	mresp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	body, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chatrelay_connections_total 1")
	assert.Contains(t, string(body), "chatrelay_sessions_active 1")
	assert.Contains(t, string(body), `chatrelay_messages_received_total{kind="connect"} 1`)
}

func TestWebSocketRoute(t *testing.T) {
	s := startServer(t, testConfig())
	url := "ws://" + s.HTTPAddr().String() + "/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	data, err := message.Encode(message.Connect("wendy"))
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := message.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, message.KindConnectAck, msg.Kind)
}

func TestRoutesWithoutListening(t *testing.T) {
	s := New(testConfig(), nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json"))

	rec = httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestShutdownClosesClients(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = ""
	s := New(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()
	<-s.Ready()
	assert.Nil(t, s.HTTPAddr())

	c := dialLine(t, s)
	c.send(message.Connect("alice"))
	c.next()

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	// the server closed our connection after the drain period
	c.conn.SetReadDeadline(time.Now().Add(waitTimeout))
	for {
		if _, err := c.reader.ReadBytes('\n'); err != nil {
			break
		}
	}
	assert.Equal(t, 0, s.Hub.Registry.Len())

	_, err := net.DialTimeout("tcp", s.TCPAddr().String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestStartFailsOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.ListenAddr = ln.Addr().String()
	err = New(cfg, nil).Start(context.Background())
	assert.Error(t, err)
}
