// Package relay pushes synced replies to local consumers over HTTP and
// WebSocket.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"RoleChat/internal/syncbin"
)

const writeWait = 10 * time.Second

// Options configures a Server.
type Options struct {
	PollInterval time.Duration
	Registry     *prometheus.Registry
	Logger       *slog.Logger
}

// Server watches a sync store and relays new records.
type Server struct {
	source   syncbin.Adapter
	hub      *Hub
	watcher  *syncbin.Watcher
	registry *prometheus.Registry
	metrics  *Metrics
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a relay for source.
func NewServer(source syncbin.Adapter, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "relay"))
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := NewMetrics(reg, "rolechat")
	hub := NewHub(metrics, logger)

	s := &Server{
		source:   source,
		hub:      hub,
		registry: reg,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
	s.watcher = syncbin.NewWatcher(source, opts.PollInterval, func(rec syncbin.Record) {
		logger.Info("sync record changed", "timestamp", rec.Timestamp, "read", rec.Read)
		hub.Broadcast(rec)
	}, logger)
	return s
}

// Hub returns the server's client hub.
func (s *Server) Hub() *Hub { return s.hub }

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/latest", s.handleLatest)
	r.Get("/ws", s.handleWS)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		MetricsHandler(s.registry).ServeHTTP(w, r)
	})
	return r
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln and the sync watcher until ctx is
// cancelled, then disconnects clients and shuts the server down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("relay listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("relay server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.watcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": s.hub.Len(),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.source.FetchLatest(r.Context())
	if err != nil {
		s.metrics.LatestFetches.WithLabelValues("error").Inc()
		s.logger.Warn("fetch latest failed", "error", err)
		respondJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	result := "empty"
	if latest.HasNew {
		result = "new"
	}
	s.metrics.LatestFetches.WithLabelValues(result).Inc()
	respondJSON(w, http.StatusOK, latest)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	c := s.hub.register()
	defer s.hub.unregister(c)

	// Clients only listen; reading detects the close.
	go func() {
		defer s.hub.unregister(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for rec := range c.send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(rec); err != nil {
			s.logger.Debug("relay write failed", "client_id", c.id, "error", err)
			return
		}
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay shutting down"),
		time.Now().Add(time.Second))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
