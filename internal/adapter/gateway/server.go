package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"agentkit/internal/domain"
	"agentkit/internal/infra/config"
	"agentkit/internal/infra/middleware"
)

// ChatStreamer produces a finite stream of execution steps for one input.
// *usecase.AgentExecutor satisfies this.
type ChatStreamer interface {
	Stream(ctx context.Context, input string) <-chan domain.Step
}

// Server exposes the agent over HTTP: POST /v1/chat relays a run as
// server-sent events, GET /v1/health reports liveness.
type Server struct {
	streamer      ChatStreamer
	conversations domain.ConversationStore // optional, nil = no persistence
	logger        *slog.Logger

	cfg       config.GatewayConfig
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a gateway server around a streamer. conversations may
// be nil.
func NewServer(cfg config.GatewayConfig, streamer ChatStreamer, conversations domain.ConversationStore, logger *slog.Logger) *Server {
	return &Server{
		streamer:      streamer,
		conversations: conversations,
		logger:        logger,
		cfg:           cfg,
	}
}

// Handler builds the gateway's HTTP handler with security headers and rate
// limiting applied. Exposed separately so tests can drive it via httptest.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/health", s.handleHealth)

	var h http.Handler = mux
	if s.cfg.RequestsPerMin > 0 {
		h = middleware.RateLimit(ctx, s.cfg.RequestsPerMin, s.cfg.Burst)(h)
	}
	return middleware.SecurityHeaders(h)
}

// Start begins serving. Blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:     s.Handler(ctx),
		ReadTimeout: s.cfg.ReadTimeout,
		// WriteTimeout stays at the configured value; zero means no deadline,
		// which SSE streams need.
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("gateway started", "addr", s.boundAddr)

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the gateway server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string { return s.boundAddr }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
