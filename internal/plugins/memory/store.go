// Package memory is a process-local message and user store for development
// and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"
)

type Store struct {
	mu       sync.RWMutex
	users    map[string]domain.UserProfile
	messages map[string][]*domain.Message // conv_id -> messages, oldest first
	partners map[string]map[string]struct{}

	// FailSave makes Save fail; tests use it to simulate an unavailable store.
	FailSave error
}

var (
	_ domain.MessageRepository = (*Store)(nil)
	_ domain.UserRepository    = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		users:    make(map[string]domain.UserProfile),
		messages: make(map[string][]*domain.Message),
		partners: make(map[string]map[string]struct{}),
	}
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.UserProfile, error) {
	if id == "" {
		return nil, domain.ErrInvalidUserID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return &p, nil
}

func (s *Store) UpsertUser(_ context.Context, p domain.UserProfile) error {
	if p.ID == "" {
		return domain.ErrInvalidUserID
	}
	s.mu.Lock()
	s.users[p.ID] = p
	s.mu.Unlock()
	return nil
}

func (s *Store) Save(_ context.Context, msg *domain.Message) (bool, error) {
	if msg.ConversationID == "" {
		return false, domain.ErrInvalidConversationID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSave != nil {
		return false, s.FailSave
	}
	cp := *msg
	list := s.messages[msg.ConversationID]
	created := len(list) == 0
	// keep created_at order even if clocks hand out an older timestamp
	i := sort.Search(len(list), func(i int) bool { return list[i].CreatedAt.After(cp.CreatedAt) })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &cp
	s.messages[msg.ConversationID] = list
	s.link(msg.FromUserID, msg.ToUserID)
	s.link(msg.ToUserID, msg.FromUserID)
	return created, nil
}

func (s *Store) link(a, b string) {
	set, ok := s.partners[a]
	if !ok {
		set = make(map[string]struct{})
		s.partners[a] = set
	}
	set[b] = struct{}{}
}

func (s *Store) ListPage(_ context.Context, convID, viewer string, before time.Time, limit int) (domain.MessagePage, error) {
	peer, err := domain.Peer(convID, viewer)
	if err != nil {
		return domain.MessagePage{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*domain.Message
	for _, m := range s.messages[convID] {
		if between(m, viewer, peer) {
			list = append(list, m)
		}
	}
	end := len(list)
	if !before.IsZero() {
		end = sort.Search(len(list), func(i int) bool { return !list[i].CreatedAt.Before(before) })
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	out := make([]domain.Message, 0, end-start)
	for _, m := range list[start:end] {
		out = append(out, copyMessage(m))
	}
	return domain.MessagePage{Messages: out, HasMore: start > 0}, nil
}

func (s *Store) MarkSeen(_ context.Context, convID, viewer string, at time.Time) (int, error) {
	peer, err := domain.Peer(convID, viewer)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages[convID] {
		if m.ToUserID != viewer || m.FromUserID != peer || m.Seen {
			continue
		}
		seenAt := at
		m.Seen = true
		m.SeenAt = &seenAt
		n++
	}
	return n, nil
}

func between(m *domain.Message, a, b string) bool {
	return (m.FromUserID == a && m.ToUserID == b) || (m.FromUserID == b && m.ToUserID == a)
}

func (s *Store) ListConversations(_ context.Context, viewer string) ([]domain.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ConversationSummary
	for peer := range s.partners[viewer] {
		convID := domain.ConversationID(viewer, peer)
		list := s.messages[convID]
		if len(list) == 0 {
			continue
		}
		last := list[len(list)-1]
		unread := 0
		for _, m := range list {
			if m.ToUserID == viewer && !m.Seen {
				unread++
			}
		}
		out = append(out, domain.ConversationSummary{
			ID:            convID,
			Peer:          domain.UserProfile{ID: peer},
			LastMessage:   last.Text,
			LastMessageAt: domain.EpochMillis(last.CreatedAt),
			UnreadCount:   unread,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListPartners(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.partners[userID]))
	for id := range s.partners[userID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func copyMessage(m *domain.Message) domain.Message {
	cp := *m
	if m.SeenAt != nil {
		t := *m.SeenAt
		cp.SeenAt = &t
	}
	return cp
}
