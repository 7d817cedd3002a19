package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"swarmstream/internal/domain"
	domainports "swarmstream/internal/domain/ports"
)

// SessionService is the session manager as seen by the HTTP layer.
type SessionService interface {
	StreamSession(ctx context.Context, id domain.ContentID, locator domain.Locator) (domain.StreamHandle, error)
	Start(id domain.ContentID, locator domain.Locator) (domain.SessionSnapshot, error)
	GetProgress(id domain.ContentID) (domain.SessionSnapshot, error)
	ListSessions() []domain.SessionSnapshot
	OpenStream(id domain.ContentID) (domainports.StreamReader, domain.StreamHandle, error)
	StopSession(id domain.ContentID)
	Subscribe(buffer int) (<-chan domain.SessionSnapshot, func())
}

type ListHistoryUseCase interface {
	Execute(ctx context.Context, limit int) ([]domain.SessionRecord, error)
}

const (
	defaultRateLimitRPS   = 100
	defaultRateLimitBurst = 200
	wsFeedBuffer          = 256
)

type Server struct {
	sessions       SessionService
	history        ListHistoryUseCase
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	metricsHandler http.Handler
	streamWait     time.Duration
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
	unsubscribe    func()
	feedDone       chan struct{}
	closeOnce      sync.Once
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithHistory(uc ListHistoryUseCase) ServerOption {
	return func(s *Server) {
		s.history = uc
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

// WithMetricsHandler replaces the default promhttp handler, e.g. with one
// bound to a private registry.
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// WithStreamWait caps how long POST /sessions/{id} waits for readiness.
func WithStreamWait(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.streamWait = d
		}
	}
}

func NewServer(sessions SessionService, opts ...ServerOption) *Server {
	s := &Server{
		sessions:   sessions,
		rateRPS:    defaultRateLimitRPS,
		rateBurst:  defaultRateLimitBurst,
		streamWait: maxStreamWait,
		feedDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()
	feed, unsubscribe := sessions.Subscribe(wsFeedBuffer)
	s.unsubscribe = unsubscribe
	go s.forwardSnapshots(feed)

	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSessionByID)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", s.metricsHandler)
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "swarmstream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" && !strings.HasSuffix(p, "/stream")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) forwardSnapshots(feed <-chan domain.SessionSnapshot) {
	defer close(s.feedDone)
	for snap := range feed {
		s.wsHub.Broadcast("session", snap)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	// New clients get the current table before live updates.
	if !s.wsHub.add(client, sessionMessages(s.sessions.ListSessions())...) {
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.sessions.ListSessions()),
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the snapshot feed and disconnects all WebSocket clients.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		<-s.feedDone
		s.wsHub.Close()
	})
}
