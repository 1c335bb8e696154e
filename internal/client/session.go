package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
	"github.com/codevn-dev/codevn-app-sub001/pkg/logging"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultPendingTimeout is how long an optimistic send may wait for its echo
// before it is shown as unsent.
const DefaultPendingTimeout = 15 * time.Second

type SessionOptions struct {
	HTTPURL        string
	WSURL          string
	Token          string
	PingInterval   time.Duration
	PendingTimeout time.Duration
	Backoff        Backoff
	Dialer         Dialer
	Logger         *slog.Logger
}

// Session ties the connection, the view state and the REST API together for
// one signed-in user.
type Session struct {
	log   *slog.Logger
	token string

	API        *API
	Controller *Controller
	Reconciler *Reconciler
	Typing     *TypingTracker
	Seen       *SeenPoller

	pendingTimeout time.Duration

	mu        sync.Mutex
	disposers []func()
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// SubjectFromToken reads the user id from a token without verifying it. The
// server verifies every request.
func SubjectFromToken(token string) (string, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func NewSession(opts SessionOptions) (*Session, error) {
	self, err := SubjectFromToken(opts.Token)
	if err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PendingTimeout <= 0 {
		opts.PendingTimeout = DefaultPendingTimeout
	}
	api := NewAPI(opts.HTTPURL)
	api.SetToken(opts.Token)
	s := &Session{
		log:   opts.Logger,
		token: opts.Token,
		API:   api,
		Controller: NewController(Options{
			URL:          opts.WSURL,
			PingInterval: opts.PingInterval,
			Backoff:      opts.Backoff,
			Logger:       opts.Logger,
		}, opts.Dialer),
		Reconciler:     NewReconciler(self, api, opts.Logger),
		Typing:         NewTypingTracker(DefaultTypingTimeout),
		pendingTimeout: opts.PendingTimeout,
	}
	s.Seen = NewSeenPoller(DefaultSeenInterval, s.markSeen, opts.Logger)
	return s, nil
}

func (s *Session) Self() string { return s.Reconciler.Self() }

// Start loads the conversation list and connects.
func (s *Session) Start(ctx context.Context) error {
	convs, err := s.API.Conversations(ctx)
	if err != nil {
		return err
	}
	s.Reconciler.Bootstrap(convs)

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancel = cancel
	s.disposers = append(s.disposers,
		s.Controller.Frames.Subscribe(s.onFrame),
		s.Controller.States.Subscribe(func(st State) {
			if st == StateConnected {
				s.wg.Add(1)
				go s.resync(runCtx)
			}
		}),
	)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.expireLoop(runCtx)
	return s.Controller.SetIdentity(s.token)
}

// Open makes peerID's conversation active, loads its newest page and starts
// marking it seen.
func (s *Session) Open(ctx context.Context, peerID string) error {
	chatID := s.Reconciler.OpenConversation(peerID)
	page, err := s.API.LoadMessages(ctx, peerID, 0, 0)
	if err != nil {
		return err
	}
	s.Reconciler.PrependHistory(peerID, page.Messages, page.HasMore)
	s.Seen.Open(chatID)
	return nil
}

func (s *Session) CloseChat() {
	s.Seen.Close()
	s.Reconciler.CloseConversation()
}

// LoadMore prepends the next older page of peerID's conversation.
func (s *Session) LoadMore(ctx context.Context, peerID string, limit int) (string, int, error) {
	if !s.Reconciler.HasMore(peerID) {
		return "", 0, nil
	}
	page, err := s.API.LoadMessages(ctx, peerID, limit, s.Reconciler.Oldest(peerID))
	if err != nil {
		return "", 0, err
	}
	anchor, inserted := s.Reconciler.PrependHistory(peerID, page.Messages, page.HasMore)
	return anchor, inserted, nil
}

// Send shows text immediately and sends it. A send that cannot go out stays
// pending until it expires as unsent.
func (s *Session) Send(peerID, text string) (domain.WireMessage, error) {
	m, err := s.Reconciler.SendOptimistic(peerID, text)
	if err != nil {
		return domain.WireMessage{}, err
	}
	s.push(m)
	return m, nil
}

func (s *Session) Retry(tempID string) error {
	m, err := s.Reconciler.Retry(tempID)
	if err != nil {
		return err
	}
	s.push(m)
	return nil
}

func (s *Session) SetTyping(peerID string, typing bool) error {
	return s.Controller.Send(domain.InboundFrame{
		Type:     domain.TypeTyping,
		ToUserID: peerID,
		Data:     &domain.TypingData{IsTyping: typing},
	})
}

func (s *Session) Close() {
	s.Seen.Close()
	s.Typing.Stop()
	s.Controller.Disconnect()
	s.mu.Lock()
	disposers, cancel := s.disposers, s.cancel
	s.disposers, s.cancel = nil, nil
	s.mu.Unlock()
	for _, dispose := range disposers {
		dispose()
	}
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Session) push(m domain.WireMessage) {
	err := s.Controller.Send(domain.InboundFrame{
		Type:     domain.TypeMessage,
		ToUserID: m.To,
		Text:     m.Text,
		TempID:   m.TempID,
	})
	if err != nil {
		s.log.Debug("client - session - send deferred", logging.TempID(m.TempID), logging.Err(err))
	}
}

func (s *Session) onFrame(f domain.OutboundFrame) {
	if f.Type == domain.TypeTyping {
		if f.IsTyping != nil {
			s.Typing.Set(f.FromUserID, *f.IsTyping)
		}
		return
	}
	if f.Type == domain.TypeNewMessage && f.Message != nil {
		// a message ends the sender's typing indicator
		s.Typing.Set(f.Message.From, false)
	}
	s.Reconciler.Apply(f)
}

// markSeen prefers the live frame and falls back to REST while offline.
func (s *Session) markSeen(ctx context.Context, chatID string) error {
	err := s.Controller.Send(domain.InboundFrame{Type: domain.TypeSeen, ChatID: chatID})
	if err == nil {
		return nil
	}
	if _, err := s.API.MarkSeen(ctx, chatID); err != nil {
		return err
	}
	s.Reconciler.MarkRead(chatID)
	return nil
}

// resync catches up on what was missed while disconnected.
func (s *Session) resync(ctx context.Context) {
	defer s.wg.Done()
	convs, err := s.API.Conversations(ctx)
	if err != nil {
		s.log.Warn("client - session - resync failed", logging.Err(err))
		return
	}
	s.Reconciler.Bootstrap(convs)
	active := s.Reconciler.Active()
	if active == "" {
		return
	}
	peerID, err := domain.Peer(active, s.Self())
	if err != nil {
		return
	}
	page, err := s.API.LoadMessages(ctx, peerID, 0, 0)
	if err != nil {
		s.log.Warn("client - session - resync messages failed", logging.Conversation(active), logging.Err(err))
		return
	}
	for _, m := range page.Messages {
		s.Reconciler.Confirm(m)
	}
}

func (s *Session) expireLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Reconciler.ExpirePending(s.pendingTimeout); n > 0 {
				s.log.Info("client - session - sends expired", "count", n)
			}
		}
	}
}
