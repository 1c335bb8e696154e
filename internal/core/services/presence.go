package services

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/contracts"
	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/metrics"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PresenceService turns registry transitions into user_online/user_offline
// deltas for the subject's conversation partners and answers snapshots.
type PresenceService struct {
	log      *slog.Logger
	registry contracts.Registry
	messages domain.MessageRepository
	fanout   contracts.Fanout
	store    contracts.PresenceStore // nil on a single node
	nodeID   string
	ttl      time.Duration

	mu      sync.Mutex
	pending []contracts.Transition
	wake    chan struct{}
}

func NewPresenceService(
	log *slog.Logger,
	registry contracts.Registry,
	messages domain.MessageRepository,
	fanout contracts.Fanout,
	store contracts.PresenceStore,
	nodeID string,
	ttl time.Duration,
) *PresenceService {
	return &PresenceService{
		log:      log,
		registry: registry,
		messages: messages,
		fanout:   fanout,
		store:    store,
		nodeID:   nodeID,
		ttl:      ttl,
		wake:     make(chan struct{}, 1),
	}
}

// Observe queues a transition. It never blocks so the registry can call it
// while holding its emit lock.
func (p *PresenceService) Observe(t contracts.Transition) {
	p.mu.Lock()
	p.pending = append(p.pending, t)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run broadcasts queued transitions in arrival order until ctx is done.
func (p *PresenceService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.log.Info("presence - run - stopped")
			return
		case <-p.wake:
		}
		for {
			p.mu.Lock()
			batch := p.pending
			p.pending = nil
			p.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, t := range batch {
				p.apply(ctx, t)
			}
		}
	}
}

func (p *PresenceService) apply(ctx context.Context, t contracts.Transition) {
	ctx, span := tracer.Start(ctx, "PresenceService.Transition", trace.WithAttributes(
		attribute.String("user_id", t.UserID),
		attribute.Bool("online", t.Online),
	))
	defer span.End()
	if p.store != nil {
		// another node already announced (or still holds) this user
		if elsewhere := p.heldElsewhere(ctx, t); elsewhere {
			span.SetAttributes(attribute.Bool("suppressed", true))
			metrics.PresenceBroadcasts.WithLabelValues("suppressed").Inc()
			return
		}
	}
	partners, err := p.messages.ListPartners(ctx, t.UserID)
	if err != nil {
		span.RecordError(err)
		p.log.ErrorContext(ctx, "presence - transition - list partners failed", "user_id", t.UserID, "err", err)
		return
	}
	frame := domain.PresenceFrame(t.UserID, t.Online)
	for _, partner := range partners {
		if err := p.fanout.ToUser(ctx, partner, frame, ""); err != nil {
			p.log.WarnContext(ctx, "presence - transition - delta not delivered", "user_id", t.UserID, "peer_id", partner, "err", err)
		}
	}
	metrics.PresenceBroadcasts.WithLabelValues("broadcast").Inc()
	p.log.DebugContext(ctx, "presence - transition - broadcast", "user_id", t.UserID, "online", t.Online, "partners", len(partners))
}

// heldElsewhere updates the cluster store for t and reports whether another
// node holds the user, in which case the delta is not broadcast.
func (p *PresenceService) heldElsewhere(ctx context.Context, t contracts.Transition) bool {
	var before map[string]bool
	var err error
	if t.Online {
		before, err = p.store.Online(ctx, []string{t.UserID})
		if terr := p.store.Touch(ctx, t.UserID, p.nodeID, p.ttl); terr != nil {
			p.log.ErrorContext(ctx, "presence - transition - touch failed", "user_id", t.UserID, "err", terr)
		}
	} else {
		if rerr := p.store.Remove(ctx, t.UserID, p.nodeID); rerr != nil {
			p.log.ErrorContext(ctx, "presence - transition - remove failed", "user_id", t.UserID, "err", rerr)
		}
		before, err = p.store.Online(ctx, []string{t.UserID})
	}
	if err != nil {
		p.log.ErrorContext(ctx, "presence - transition - cluster lookup failed", "user_id", t.UserID, "err", err)
		return false
	}
	return before[t.UserID]
}

// Refresh keeps this node's cluster presence entry for userID alive.
func (p *PresenceService) Refresh(ctx context.Context, userID string) error {
	if p.store == nil {
		return nil
	}
	return p.store.Touch(ctx, userID, p.nodeID, p.ttl)
}

// Snapshot lists userID's conversation partners that are currently online,
// sorted.
func (p *PresenceService) Snapshot(ctx context.Context, userID string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "PresenceService.Snapshot", trace.WithAttributes(
		attribute.String("user_id", userID),
	))
	defer span.End()
	partners, err := p.messages.ListPartners(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	online := make([]string, 0, len(partners))
	var remote []string
	for _, id := range partners {
		if p.registry.IsOnline(id) {
			online = append(online, id)
		} else {
			remote = append(remote, id)
		}
	}
	if p.store != nil && len(remote) > 0 {
		held, err := p.store.Online(ctx, remote)
		if err != nil {
			p.log.WarnContext(ctx, "presence - snapshot - cluster lookup failed", "user_id", userID, "err", err)
		}
		for _, id := range remote {
			if held[id] {
				online = append(online, id)
			}
		}
	}
	sort.Strings(online)
	return online, nil
}

// Introduce sends both users of a new conversation a fresh online_users
// snapshot, since neither was the other's partner before.
func (p *PresenceService) Introduce(ctx context.Context, a, b string) {
	for _, id := range []string{a, b} {
		online, err := p.Snapshot(ctx, id)
		if err != nil {
			p.log.ErrorContext(ctx, "presence - introduce - snapshot failed", "user_id", id, "err", err)
			continue
		}
		if err := p.fanout.ToUser(ctx, id, domain.OnlineUsersFrame(online), ""); err != nil {
			p.log.WarnContext(ctx, "presence - introduce - snapshot not delivered", "user_id", id, "err", err)
		}
	}
}

// IsOnline consults the local registry and then the cluster store.
func (p *PresenceService) IsOnline(ctx context.Context, userID string) bool {
	if p.registry.IsOnline(userID) {
		return true
	}
	if p.store == nil {
		return false
	}
	held, err := p.store.Online(ctx, []string{userID})
	if err != nil {
		p.log.WarnContext(ctx, "presence - is online - cluster lookup failed", "user_id", userID, "err", err)
		return false
	}
	return held[userID]
}
