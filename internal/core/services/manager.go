package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/contracts"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type IManagerService interface {
	// HandleConnect registers the connection and returns the presence
	// snapshot for the connected frame.
	HandleConnect(ctx context.Context, c contracts.Client) ([]string, error)
	// HandleHeartbeat refreshes cluster presence until ctx is done.
	HandleHeartbeat(ctx context.Context, c contracts.Client) error
	// HandleDisconnect unregisters the connection. Safe to call twice.
	HandleDisconnect(ctx context.Context, c contracts.Client) error
}

var tracer = otel.Tracer("chat-services")

var errInvalidClient = errors.New("invalid connection parameters")

// readyTimeout bounds how long a connect waits for the user's cluster
// subscription.
const readyTimeout = 5 * time.Second

type ManagerService struct {
	registry contracts.Registry
	presence *PresenceService
	interval time.Duration
	log      *slog.Logger
}

var _ IManagerService = (*ManagerService)(nil)

// NewManagerService wires connection lifecycle. interval is the cluster
// presence refresh period.
func NewManagerService(
	log *slog.Logger,
	registry contracts.Registry,
	presence *PresenceService,
	interval time.Duration,
) *ManagerService {
	return &ManagerService{
		log:      log,
		registry: registry,
		presence: presence,
		interval: interval,
	}
}

func (m *ManagerService) HandleConnect(ctx context.Context, c contracts.Client) ([]string, error) {
	ctx, span := tracer.Start(ctx, "ManagerService.HandleConnect", trace.WithAttributes(
		attribute.String("user_id", c.UserID()),
		attribute.String("conn_id", c.ID()),
	))
	defer span.End()
	if c.UserID() == "" || c.ID() == "" {
		span.RecordError(errInvalidClient)
		return nil, errInvalidClient
	}
	first := m.registry.Register(c)
	span.SetAttributes(attribute.Bool("first", first))
	// the greeting must not go out before frames for the user can arrive
	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	err := m.registry.WaitReady(readyCtx, c.UserID())
	cancel()
	if err != nil {
		m.registry.Unregister(c)
		span.RecordError(err)
		span.SetStatus(codes.Error, "user channel not ready")
		m.log.ErrorContext(ctx, "manager - handle connect - user channel not ready", "user_id", c.UserID(), "conn_id", c.ID(), "err", err)
		return nil, err
	}
	online, err := m.presence.Snapshot(ctx, c.UserID())
	if err != nil {
		// registered already; an empty snapshot is still a valid greeting
		span.RecordError(err)
		m.log.ErrorContext(ctx, "manager - handle connect - snapshot failed", "user_id", c.UserID(), "conn_id", c.ID(), "err", err)
		online = []string{}
	}
	span.SetStatus(codes.Ok, "connected")
	m.log.InfoContext(ctx, "manager - handle connect - success", "user_id", c.UserID(), "conn_id", c.ID(), "first", first)
	return online, nil
}

func (m *ManagerService) HandleHeartbeat(ctx context.Context, c contracts.Client) error {
	if m.interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Debug("manager - handle heartbeat - stopped", "user_id", c.UserID(), "conn_id", c.ID())
			return nil
		case <-ticker.C:
			_, span := tracer.Start(ctx, "Heartbeat.RefreshPresence")
			if err := m.presence.Refresh(ctx, c.UserID()); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "presence refresh failed")
				m.log.ErrorContext(ctx, "manager - handle heartbeat - refresh presence failed", "user_id", c.UserID(), "err", err)
			}
			span.End()
		}
	}
}

func (m *ManagerService) HandleDisconnect(ctx context.Context, c contracts.Client) error {
	ctx, span := tracer.Start(ctx, "ManagerService.HandleDisconnect", trace.WithAttributes(
		attribute.String("user_id", c.UserID()),
		attribute.String("conn_id", c.ID()),
	))
	defer span.End()
	last := m.registry.Unregister(c)
	span.SetAttributes(attribute.Bool("last", last))
	m.log.InfoContext(ctx, "manager - handle disconnect - success", "user_id", c.UserID(), "conn_id", c.ID(), "last", last)
	return nil
}
