// internal/api/routes.go
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes returns the HTTP handler: the WebSocket endpoint, health and metrics.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.Hub.ServeWs)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

type healthResponse struct {
	Status   string          `json:"status"`
	Version  string          `json:"version"`
	Sessions int             `json:"sessions"`
	Users    []healthSession `json:"users"`
	NATS     string          `json:"nats"`
	Uptime   string          `json:"uptime"`
}

type healthSession struct {
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connected_at"`
	Connected   string    `json:"connected"`
}

// sessionsSnapshot lists the connected users in admission order with how
// long each has been online. Users leaving mid-snapshot are skipped.
func (s *Server) sessionsSnapshot(now time.Time) []healthSession {
	reg := s.Hub.Registry
	users := make([]healthSession, 0, reg.Len())
	for _, name := range reg.Usernames() {
		session, ok := reg.SessionFor(name)
		if !ok {
			continue
		}
		users = append(users, healthSession{
			Username:    session.Username,
			ConnectedAt: session.ConnectedAt,
			Connected:   now.Sub(session.ConnectedAt).Round(time.Second).String(),
		})
	}
	return users
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	natsStatus := "disabled"
	if s.sink != nil {
		natsStatus = "disconnected"
		if s.sink.Connected() {
			natsStatus = "connected"
		}
	}

	users := s.sessionsSnapshot(time.Now())
	health := healthResponse{
		Status:   "ok",
		Version:  Version,
		Sessions: len(users),
		Users:    users,
		NATS:     natsStatus,
		Uptime:   time.Since(s.Hub.StartTime).Round(time.Second).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
