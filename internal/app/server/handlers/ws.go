package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"

	"github.com/codevn-dev/codevn-app-sub001/internal/app/server/ws"
	"github.com/codevn-dev/codevn-app-sub001/internal/config"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/services"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/logger"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/metrics"
	"github.com/codevn-dev/codevn-app-sub001/pkg/logging"
	"github.com/codevn-dev/codevn-app-sub001/pkg/middleware"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type WSHandler struct {
	tokens   middleware.TokenValidator
	manager  *services.ManagerService
	router   *services.RouterService
	cfg      config.ChatConfig
	upgrader websocket.Upgrader
}

func NewWSHandler(
	tokens middleware.TokenValidator,
	manager *services.ManagerService,
	router *services.RouterService,
	cfg config.ChatConfig,
) *WSHandler {
	h := &WSHandler{
		tokens:  tokens,
		manager: manager,
		router:  router,
		cfg:     cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (s *WSHandler) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

func (s *WSHandler) Handler(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	span := trace.SpanFromContext(r.Context())
	// no partial registration: the token is checked before the upgrade
	userID, err := authenticate(r, s.tokens)
	if err != nil {
		log.WarnContext(r.Context(), "ws handler - handshake - rejected", logging.Err(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	span.SetAttributes(attribute.String("user.id", userID))
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.HandshakeRejected.WithLabelValues("upgrade_failed").Inc()
		log.ErrorContext(r.Context(), "ws handler - upgrade - ws upgrade failed", logging.User(userID), logging.Err(err))
		return
	}
	// the connection outlives nothing but this handler
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	sock := ws.NewWebSocket(conn, s.cfg.WriteWait, s.cfg.HeartbeatTimeout(), s.cfg.ReadLimit)
	client := ws.NewClient(log, sock, userID, s.cfg.SendBuffer)
	defer client.Close()
	log = log.With(logging.User(userID), logging.Conn(client.ID()))

	online, err := s.manager.HandleConnect(ctx, client)
	if err != nil {
		log.ErrorContext(ctx, "ws handler - handle connect - failed", logging.Err(err))
		client.CloseWith(websocket.CloseInternalServerErr, "connect failed")
		return
	}
	defer s.manager.HandleDisconnect(ctx, client)

	greeting, _ := json.Marshal(domain.ConnectedFrame(online))
	client.Start(greeting)
	go s.manager.HandleHeartbeat(ctx, client)
	log.InfoContext(ctx, "ws handler - ws connection established", "online_partners", len(online))

	// frames of one connection are handled one at a time, in receipt order
	err = sock.ReadLoop(func(data []byte) {
		_ = s.router.HandleIncoming(ctx, client, data)
	})
	if err != nil {
		log.InfoContext(ctx, "ws handler - read loop - connection lost", logging.Err(err))
		return
	}
	log.InfoContext(ctx, "ws handler - read loop - closed by client")
}
