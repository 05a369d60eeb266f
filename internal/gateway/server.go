package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/skynetai/skynet/internal/config"
	"github.com/skynetai/skynet/internal/runtime"
)

// Server binds the WebSocket endpoint, the OpenAI-compatible HTTP
// endpoint, and webhook ingress onto one listener. Grounded on the
// teacher's http_server.go startHTTPServer/stopHTTPServer lifecycle
// (stdlib mux, ReadHeaderTimeout, background Serve, graceful Shutdown),
// reduced from its UI/gRPC/metrics mounts down to the three surfaces
// spec.md §6 names.
type Server struct {
	config Config
	ws     *WSServer
	http   *http.Server
	log    zerolog.Logger
}

// Config configures the gateway's HTTP listener and its three handlers.
type Config struct {
	Bind      string
	Port      int
	AuthToken string
	Webhooks  config.WebhooksConfig
	Runtime   *runtime.Runtime
	Log       zerolog.Logger
}

// New builds a Server. Call Start to bind and serve; Start returns
// immediately, serving in a background goroutine.
func New(cfg Config) *Server {
	log := cfg.Log.With().Str("component", "gateway.server").Logger()
	ws := NewWSServer(WSConfig{AuthToken: cfg.AuthToken, Runtime: cfg.Runtime, Log: log})
	return &Server{config: cfg, ws: ws, log: log}
}

// Hub exposes the WS broadcast hub so callers can register it with the
// scheduler's delivery router under the "ws" channel name.
func (s *Server) Hub() *hub { return s.ws.Hub() }

// Start binds the listener and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/ws", s.ws)
	mux.Handle("/v1/chat/completions", &OpenAIHandler{Runtime: s.config.Runtime, Log: s.log})

	if s.config.Webhooks.Enabled {
		sources := make(map[string]config.WebhookSource, len(s.config.Webhooks.Sources))
		for _, src := range s.config.Webhooks.Sources {
			sources[src.Name] = src
		}
		mux.Handle("/webhooks/", &WebhookHandler{Sources: sources, Runtime: s.config.Runtime, Log: s.log})
	}

	addr := fmt.Sprintf("%s:%d", s.config.Bind, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", addr, err)
	}

	s.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("gateway http server error")
		}
	}()
	s.log.Info().Str("addr", addr).Msg("gateway listening")
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
