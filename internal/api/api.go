// internal/api/api.go
// Provides the Server supervisor: TCP accept loop, HTTP routes and graceful shutdown.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/erilali/chatrelay/internal/config"
	"github.com/erilali/chatrelay/internal/hub"
	"github.com/erilali/chatrelay/internal/logger"
	"github.com/erilali/chatrelay/internal/metrics"
)

// Version is reported by /health. It is overridden at link time.
var Version = "dev"

const (
	acceptBackoffMin  = 5 * time.Millisecond
	acceptBackoffMax  = time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server owns the process-wide hub and the listeners feeding it.
type Server struct {
	Hub *hub.Hub

	cfg      config.Config
	log      *logger.Logger
	registry *prometheus.Registry
	sink     *hub.NATSSink

	tcpListener  net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	ready        chan struct{}
}

// New builds a server from cfg. Nothing is bound until Start.
func New(cfg config.Config, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	return &Server{
		Hub:      hub.NewHub(hub.OptionsFrom(cfg), m, nil, log.WithField("component", "hub")),
		cfg:      cfg,
		log:      log,
		registry: reg,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the listeners are bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// TCPAddr returns the bound line-protocol address, or nil when disabled.
// Only valid after Ready.
func (s *Server) TCPAddr() net.Addr {
	if s.tcpListener == nil {
		return nil
	}
	return s.tcpListener.Addr()
}

// HTTPAddr returns the bound HTTP address, or nil when disabled. Only
// valid after Ready.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Start binds the listeners and serves until ctx is cancelled. It then
// stops accepting, gives connected clients ShutdownTimeout to leave and
// closes the rest.
func (s *Server) Start(ctx context.Context) error {
	s.connectNATS()

	if err := s.listen(); err != nil {
		s.closeListeners()
		s.shutdownHub()
		return err
	}
	close(s.ready)

	g, gctx := errgroup.WithContext(ctx)

	if s.tcpListener != nil {
		s.log.Infof("Line protocol listening on %s", s.tcpListener.Addr())
		g.Go(func() error {
			return s.acceptLoop(gctx, s.tcpListener)
		})
	}
	if s.httpListener != nil {
		s.log.Infof("HTTP server listening on %s", s.httpListener.Addr())
		g.Go(func() error {
			if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("Shutting down: no longer accepting connections")
		s.closeListeners()
		return nil
	})

	err := g.Wait()
	s.shutdownHub()
	s.log.Info("Shutdown complete")
	return err
}

func (s *Server) connectNATS() {
	if s.cfg.NatsURL == "" {
		s.log.Info("NATS_URL not set, running without the event feed")
		return
	}
	s.log.Infof("Connecting to NATS at %s", s.cfg.NatsURL)
	sink, err := hub.ConnectNATS(s.cfg.NatsURL, s.cfg.NatsSubject, s.log.WithField("component", "nats"))
	if err != nil {
		s.log.Errorf("Error connecting to NATS: %v", err)
		s.log.Warn("Running without NATS connection. The event feed will be disabled.")
		return
	}
	s.log.Info("Successfully connected to NATS")
	s.sink = sink
	s.Hub.Sink = sink
}

func (s *Server) listen() error {
	if s.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
		}
		s.tcpListener = ln
	}
	if s.cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpListener = ln
		s.httpServer = &http.Server{
			Handler:           s.Routes(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
	}
	return nil
}

// acceptLoop hands every accepted connection to the hub. Accept errors are
// logged and retried with backoff; only a closed listener ends the loop.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			if backoff == 0 {
				backoff = acceptBackoffMin
			} else {
				backoff = min(backoff*2, acceptBackoffMax)
			}
			s.log.Errorf("Accept error: %v; retrying in %v", err, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0
		go s.Hub.ServeTCP(context.Background(), conn)
	}
}

func (s *Server) closeListeners() {
	if s.tcpListener != nil {
		s.tcpListener.Close()
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Std())
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warnf("HTTP shutdown: %v", err)
		}
	} else if s.httpListener != nil {
		s.httpListener.Close()
	}
}

func (s *Server) shutdownHub() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Std())
	defer cancel()
	if err := s.Hub.Shutdown(ctx); err != nil {
		s.log.Warnf("Forced close of remaining connections: %v", err)
	}
}
