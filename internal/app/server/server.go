package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/app/server/handlers"
	"github.com/codevn-dev/codevn-app-sub001/pkg/middleware"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	mux         *http.ServeMux
	addr        string
	service     string
	log         *slog.Logger
	tokens      middleware.TokenValidator
	wsHandler   *handlers.WSHandler
	chatHandler *handlers.ChatHandler
	httpServer  *http.Server
}

func NewServer(
	log *slog.Logger,
	addr string,
	service string,
	tokens middleware.TokenValidator,
	wsHandler *handlers.WSHandler,
	chatHandler *handlers.ChatHandler,
) *Server {
	s := &Server{
		mux:         http.NewServeMux(),
		addr:        addr,
		service:     service,
		log:         log,
		tokens:      tokens,
		wsHandler:   wsHandler,
		chatHandler: chatHandler,
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// 1. Initialize Middleware
	auth := middleware.AuthMiddleware(s.tokens)
	wrap := func(h http.Handler) http.Handler {
		return middleware.TracerMiddleware(s.service)(middleware.RequestLogger(s.log)(h))
	}

	// 2. Public Routes
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.Handle("GET /metrics", promhttp.Handler())
	// the ws handler authenticates the handshake itself so a bad token is
	// refused before the upgrade
	s.mux.Handle("GET /ws", wrap(http.HandlerFunc(s.wsHandler.Handler)))

	// 3. Protected Routes
	s.mux.Handle("GET /conversations", wrap(auth(http.HandlerFunc(s.chatHandler.Conversations))))
	s.mux.Handle("GET /chat", wrap(auth(http.HandlerFunc(s.chatHandler.Messages))))
	s.mux.Handle("POST /chat/seen", wrap(auth(http.HandlerFunc(s.chatHandler.MarkSeen))))
	s.mux.Handle("GET /users/{id}", wrap(auth(http.HandlerFunc(s.chatHandler.Profile))))
	s.mux.Handle("PUT /users/me", wrap(auth(http.HandlerFunc(s.chatHandler.UpdateProfile))))
}

// Handler exposes the routed mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.log.Info("server - start - listening", "address", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests. Hijacked websocket connections are not
// tracked by net/http; the registry closes them.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
