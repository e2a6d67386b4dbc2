package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shhcash/Shh.Cash-Node/journal"
	"github.com/shhcash/Shh.Cash-Node/offer"
	"github.com/shhcash/Shh.Cash-Node/relay"
	"github.com/shhcash/Shh.Cash-Node/telemetry"
)

// Node is the coordinator surface exposed over HTTP.
type Node interface {
	Health() relay.Health
	Status() relay.Status
	Pause()
	Resume()
}

var _ Node = (*relay.Coordinator)(nil)

// Auditor supplies recent journal entries for the admin status view.
type Auditor interface {
	Recent(ctx context.Context, n int) ([]journal.Entry, error)
}

var _ Auditor = (*journal.Journal)(nil)

// Config defines HTTP server parameters. Admin endpoints are mounted only
// when an auth credential is configured.
type Config struct {
	ListenAddress string
	Auth          AuthConfig
	RateLimit     RateLimit
}

// Server hosts the local node surface: health, readiness, metrics and the
// authenticated admin controls.
type Server struct {
	cfg       Config
	node      Node
	metrics   *telemetry.Metrics
	audit     Auditor
	auth      *Authenticator
	limiter   *RateLimiter
	logger    *slog.Logger
	handler   http.Handler
	startedAt time.Time
}

// Option adjusts server construction.
type Option func(*Server)

// WithAuditor wires the journal backing the admin status view.
func WithAuditor(audit Auditor) Option {
	return func(s *Server) { s.audit = audit }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs the HTTP server around the supplied coordinator.
func New(cfg Config, node Node, metrics *telemetry.Metrics, opts ...Option) (*Server, error) {
	if node == nil {
		return nil, errors.New("server: node required")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8080"
	}
	s := &Server{
		cfg:       cfg,
		node:      node,
		metrics:   metrics,
		limiter:   NewRateLimiter(cfg.RateLimit),
		logger:    slog.Default(),
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if strings.TrimSpace(cfg.Auth.BearerToken) != "" || strings.TrimSpace(cfg.Auth.JWTSecret) != "" {
		auth, err := NewAuthenticator(cfg.Auth, s.logger)
		if err != nil {
			return nil, err
		}
		s.auth = auth
	}
	s.handler = s.router()
	return s, nil
}

// Handler returns the assembled HTTP handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Info("server: listening", "address", s.cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.limiter.Middleware)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Method(http.MethodGet, "/metrics/prometheus", promhttp.Handler())
	if s.auth != nil {
		r.Route("/admin", func(ar chi.Router) {
			ar.Use(s.auth.Middleware)
			ar.Post("/pause", s.handlePause)
			ar.Post("/resume", s.handleResume)
			ar.Get("/status", s.handleAdminStatus)
		})
	}
	r.NotFound(s.handleNotFound)
	return otelhttp.NewHandler(r, "relayd.http")
}

func (s *Server) routes() []string {
	paths := []string{"/health", "/ready", "/metrics", "/metrics/prometheus"}
	if s.auth != nil {
		paths = append(paths, "/admin/pause", "/admin/resume", "/admin/status")
	}
	return paths
}

type healthResponse struct {
	Status            offer.NodeStatus   `json:"status"`
	Uptime            float64            `json:"uptime"`
	WalletCount       int                `json:"walletCount"`
	ActiveWalletCount int                `json:"activeWalletCount"`
	ActiveOffers      int                `json:"activeOffers"`
	Metrics           telemetry.Snapshot `json:"metrics"`
	Timestamp         int64              `json:"timestamp"`
}

// handleHealth reports node status with the full metrics snapshot. Healthy
// and degraded both answer 200; only unhealthy yields 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.node.Health()
	body := healthResponse{
		Status:            health.Status,
		Uptime:            time.Since(s.startedAt).Seconds(),
		WalletCount:       health.WalletCount,
		ActiveWalletCount: health.ActiveWallets,
		ActiveOffers:      health.ActiveOffers,
		Metrics:           s.metrics.Snapshot(),
		Timestamp:         time.Now().UnixMilli(),
	}
	status := http.StatusOK
	if health.Status == offer.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	health := s.node.Health()
	ready := health.Status != offer.StatusUnhealthy && health.ActiveWallets > 0
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ready": ready, "status": health.Status})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": "not found",
		"paths": s.routes(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
