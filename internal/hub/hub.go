// internal/hub/hub.go
// Provides the Hub that owns the shared session registry and fan-out bus and runs one Client per connection.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/erilali/chatrelay/internal/bus"
	"github.com/erilali/chatrelay/internal/config"
	"github.com/erilali/chatrelay/internal/logger"
	"github.com/erilali/chatrelay/internal/message"
	"github.com/erilali/chatrelay/internal/metrics"
	"github.com/erilali/chatrelay/internal/registry"
)

// Conn is one client transport. ReadMessage returns exactly one encoded
// message; WriteMessage sends one. Close must unblock a pending read.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
	RemoteAddr() string
}

// EventSink receives a copy of every message published on the bus.
type EventSink interface {
	Publish(msg message.Message) error
	Close()
}

// Options tunes per-connection behaviour.
type Options struct {
	BusBufferSize  int
	MaxMessageSize int64
	RateLimit      config.RateLimitConfig
	AllowedOrigins []string
}

// OptionsFrom extracts the hub settings from a server config.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		BusBufferSize:  cfg.BusBufferSize,
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit:      cfg.RateLimit,
		AllowedOrigins: cfg.AllowedOrigins,
	}
}

// Hub represents the chat room: one registry, one bus, many clients.
type Hub struct {
	Registry  *registry.Registry
	Bus       *bus.Bus
	Metrics   *metrics.Metrics
	Sink      EventSink
	Logger    *logger.Logger
	StartTime time.Time

	opts    Options
	origins originPolicy

	// ctx is cancelled by Shutdown to force the remaining clients closed.
	ctx    context.Context
	cancel context.CancelFunc

	// closing is set once Shutdown starts; wg.Add only happens under mu
	// while it is false.
	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewHub creates a Hub. m and sink may be nil.
func NewHub(opts Options, m *metrics.Metrics, sink EventSink, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	defaults := config.Default()
	if opts.BusBufferSize <= 0 {
		opts.BusBufferSize = defaults.BusBufferSize
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	if opts.RateLimit.Burst <= 0 || opts.RateLimit.RefillInterval <= 0 {
		opts.RateLimit = defaults.RateLimit
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		Registry:  registry.New(),
		Bus:       bus.New(bus.WithBufferSize(opts.BusBufferSize), bus.WithDropHandler(m.Dropped)),
		Metrics:   m,
		Sink:      sink,
		Logger:    log,
		StartTime: time.Now(),
		opts:      opts,
		origins:   newOriginPolicy(opts.AllowedOrigins, log),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Serve runs a client on conn until the connection ends, ctx is cancelled
// or the hub shuts down. It always closes conn.
func (h *Hub) Serve(ctx context.Context, conn Conn) {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	h.Metrics.ConnectionOpened()
	newClient(h, conn).run(ctx)
}

// Shutdown waits for connected clients to leave on their own until ctx is
// done, then closes whoever is left and waits for their cleanup. The bus
// and the event sink are closed last. Connections handed to Serve after
// Shutdown has started are closed straight away.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		h.Logger.Warnf("Shutdown timeout reached, closing %d remaining sessions", h.Registry.Len())
		err = ctx.Err()
	}
	h.cancel()
	<-drained

	h.Bus.Close()
	if h.Sink != nil {
		h.Sink.Close()
	}
	return err
}

// publish hands msg to the bus and mirrors it to the event sink.
func (h *Hub) publish(msg message.Message) {
	h.Bus.Publish(msg)
	h.Metrics.Published()
	if h.Sink == nil {
		return
	}
	if err := h.Sink.Publish(msg); err != nil {
		h.Logger.Warnf("Failed to mirror %s message to event sink: %v", msg.Kind, err)
	}
}
