package client

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"

	"github.com/google/uuid"
)

// TempPrefix marks ids of optimistic messages not yet confirmed by the server.
const TempPrefix = "temp-"

// EchoMatchWindow bounds how far a server timestamp may be from a pending
// send's local time for an echo without a temp id to replace it.
const EchoMatchWindow = 30 * time.Second

// ReasonUnsent is the failure reason of a send that was never acknowledged.
const ReasonUnsent = "unsent"

var (
	ErrUnknownMessage = errors.New("unknown optimistic message")
	ErrNotFailed      = errors.New("message is not in a failed state")
)

// Delivery is the local delivery state of a message:
// Pending, Confirmed or Failed.
type Delivery interface {
	isDelivery()
}

// Pending is an optimistic send waiting for its server echo.
type Pending struct {
	TempID string
	SentAt time.Time
}

// Confirmed carries the server-assigned id.
type Confirmed struct {
	ServerID string
}

type Failed struct {
	TempID string
	Reason string
}

func (Pending) isDelivery()   {}
func (Confirmed) isDelivery() {}
func (Failed) isDelivery()    {}

type Entry struct {
	Message  domain.WireMessage
	Delivery Delivery
}

// ProfileFetcher resolves peer profiles for placeholder rows.
type ProfileFetcher interface {
	Profile(ctx context.Context, userID string) (*domain.UserProfile, error)
}

// Change names the conversation whose view changed. An empty id means the
// conversation list or presence changed.
type Change struct {
	ConversationID string
}

// Reconciler owns the client's view state. Every mutation goes through its
// methods so temp entries and server echoes never duplicate.
type Reconciler struct {
	self     string
	profiles ProfileFetcher
	log      *slog.Logger

	now       func() time.Time
	newTempID func() string

	mu       sync.Mutex
	convs    map[string]*domain.ConversationSummary
	msgs     map[string][]Entry
	hasMore  map[string]bool
	online   map[string]bool
	active   string
	fetching map[string]bool
	temps    map[string]string // temp id → conversation id
	changed  []Change

	emitMu  sync.Mutex
	Changes *Bus[Change]
}

func NewReconciler(self string, profiles ProfileFetcher, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		self:      self,
		profiles:  profiles,
		log:       log,
		now:       time.Now,
		newTempID: func() string { return TempPrefix + uuid.NewString() },
		convs:     make(map[string]*domain.ConversationSummary),
		msgs:      make(map[string][]Entry),
		hasMore:   make(map[string]bool),
		online:    make(map[string]bool),
		fetching:  make(map[string]bool),
		temps:     make(map[string]string),
		Changes:   NewBus[Change](),
	}
}

func (r *Reconciler) Self() string { return r.self }

// Bootstrap merges the REST conversation list. Rows already known locally
// keep the newer last message.
func (r *Reconciler) Bootstrap(summaries []domain.ConversationSummary) {
	r.mu.Lock()
	for _, s := range summaries {
		cur, ok := r.convs[s.ID]
		if !ok {
			s := s
			if s.ID == r.active {
				s.UnreadCount = 0
			}
			r.convs[s.ID] = &s
			if s.Peer.Name == "" || s.Peer.Name == domain.UnknownUserName {
				r.fetchProfileLocked(s.Peer.ID)
			}
			continue
		}
		if s.LastMessageAt >= cur.LastMessageAt {
			cur.LastMessage = s.LastMessage
			cur.LastMessageAt = s.LastMessageAt
			if s.ID != r.active {
				cur.UnreadCount = s.UnreadCount
			}
		}
		if s.Peer.Name != "" && s.Peer.Name != domain.UnknownUserName {
			cur.Peer = s.Peer
		}
	}
	r.changed = append(r.changed, Change{})
	r.unlockAndEmit()
}

// SendOptimistic validates text and appends a pending entry for it. The
// returned message carries the temp id to send as tempId.
func (r *Reconciler) SendOptimistic(peerID, text string) (domain.WireMessage, error) {
	if err := domain.ValidateUserID(peerID); err != nil {
		return domain.WireMessage{}, err
	}
	if peerID == r.self {
		return domain.WireMessage{}, domain.ErrSelfMessage
	}
	trimmed, err := domain.ValidateText(text, domain.MaxMessageLength)
	if err != nil {
		return domain.WireMessage{}, err
	}
	now := r.now()
	tempID := r.newTempID()
	m := domain.WireMessage{
		ID:        tempID,
		Type:      domain.KindMessage,
		ChatID:    domain.ConversationID(r.self, peerID),
		From:      r.self,
		To:        peerID,
		Text:      trimmed,
		Timestamp: domain.EpochMillis(now),
		TempID:    tempID,
	}

	r.mu.Lock()
	r.msgs[m.ChatID] = append(r.msgs[m.ChatID], Entry{
		Message:  m,
		Delivery: Pending{TempID: tempID, SentAt: now},
	})
	r.temps[tempID] = m.ChatID
	r.touchSummaryLocked(m, false)
	r.changed = append(r.changed, Change{ConversationID: m.ChatID}, Change{})
	r.unlockAndEmit()
	return m, nil
}

// Apply merges one server frame into the view.
func (r *Reconciler) Apply(f domain.OutboundFrame) {
	switch f.Type {
	case domain.TypeNewMessage, domain.TypeMessageSent:
		if f.Message != nil {
			r.Confirm(*f.Message)
		}
	case domain.TypeMessagesSeen:
		r.applySeen(f.ChatID, f.SeenBy)
	case domain.TypeConnected, domain.TypeOnlineUsers:
		// both carry the full set of online partners
		r.mu.Lock()
		r.online = make(map[string]bool, len(f.OnlineUsers))
		for _, id := range f.OnlineUsers {
			r.online[id] = true
		}
		r.changed = append(r.changed, Change{})
		r.unlockAndEmit()
	case domain.TypeUserOnline, domain.TypeUserOffline:
		r.mu.Lock()
		if f.Type == domain.TypeUserOnline {
			r.online[f.UserID] = true
		} else {
			delete(r.online, f.UserID)
		}
		r.changed = append(r.changed, Change{})
		r.unlockAndEmit()
	case domain.TypeError:
		if f.TempID != "" && f.Code == domain.CodePersistFailed {
			_ = r.Fail(f.TempID, f.Error)
		}
	}
}

// Confirm merges a server message. An entry with the same id is updated in
// place. Otherwise a temp entry matching by temp id, or else by sender and
// text, is replaced. Anything else is appended. The list stays ordered by
// timestamp.
func (r *Reconciler) Confirm(m domain.WireMessage) {
	if m.ChatID == "" {
		m.ChatID = domain.ConversationID(m.From, m.To)
	}
	r.mu.Lock()
	list := r.msgs[m.ChatID]
	idx, fresh := -1, false
	for i, e := range list {
		if e.Message.ID == m.ID {
			idx = i
			break
		}
	}
	if idx < 0 && m.TempID != "" {
		for i, e := range list {
			if e.Message.ID == m.TempID {
				idx = i
				break
			}
		}
	}
	if idx < 0 {
		for i, e := range list {
			p, ok := e.Delivery.(Pending)
			if ok && e.Message.From == m.From && e.Message.Text == m.Text &&
				withinEchoWindow(p.SentAt, m.Timestamp) {
				idx = i
				break
			}
		}
	}
	if idx >= 0 {
		if old := list[idx].Message.ID; old != m.ID {
			delete(r.temps, old)
		}
		// seen never reverts
		if list[idx].Message.Seen && !m.Seen {
			m.Seen, m.SeenAt = true, list[idx].Message.SeenAt
		}
		list[idx] = Entry{Message: m, Delivery: Confirmed{ServerID: m.ID}}
	} else {
		fresh = true
		list = append(list, Entry{Message: m, Delivery: Confirmed{ServerID: m.ID}})
	}
	sortEntries(list)
	r.msgs[m.ChatID] = list
	r.touchSummaryLocked(m, fresh && m.From != r.self && m.ChatID != r.active)
	r.changed = append(r.changed, Change{ConversationID: m.ChatID}, Change{})
	r.unlockAndEmit()
}

// withinEchoWindow reports whether a server timestamp is close enough to a
// local send time to be that send's echo.
func withinEchoWindow(sentAt time.Time, ts int64) bool {
	d := domain.FromEpochMillis(ts).Sub(sentAt)
	return d >= -EchoMatchWindow && d <= EchoMatchWindow
}

// Fail marks a pending entry as failed.
func (r *Reconciler) Fail(tempID, reason string) error {
	r.mu.Lock()
	convID, ok := r.temps[tempID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownMessage
	}
	if reason == "" {
		reason = ReasonUnsent
	}
	list := r.msgs[convID]
	for i, e := range list {
		if e.Message.ID == tempID {
			list[i].Delivery = Failed{TempID: tempID, Reason: reason}
		}
	}
	r.changed = append(r.changed, Change{ConversationID: convID})
	r.unlockAndEmit()
	return nil
}

// ExpirePending fails every pending entry older than timeout and returns how
// many changed.
func (r *Reconciler) ExpirePending(timeout time.Duration) int {
	now := r.now()
	r.mu.Lock()
	n := 0
	for tempID, convID := range r.temps {
		list := r.msgs[convID]
		for i, e := range list {
			p, ok := e.Delivery.(Pending)
			if !ok || e.Message.ID != tempID || now.Sub(p.SentAt) < timeout {
				continue
			}
			list[i].Delivery = Failed{TempID: tempID, Reason: ReasonUnsent}
			r.changed = append(r.changed, Change{ConversationID: convID})
			n++
		}
	}
	r.unlockAndEmit()
	return n
}

// Retry moves a failed entry back to pending and returns the message to
// resend under the same temp id.
func (r *Reconciler) Retry(tempID string) (domain.WireMessage, error) {
	r.mu.Lock()
	convID, ok := r.temps[tempID]
	if !ok {
		r.mu.Unlock()
		return domain.WireMessage{}, ErrUnknownMessage
	}
	list := r.msgs[convID]
	for i, e := range list {
		if e.Message.ID != tempID {
			continue
		}
		if _, failed := e.Delivery.(Failed); !failed {
			r.mu.Unlock()
			return domain.WireMessage{}, ErrNotFailed
		}
		list[i].Delivery = Pending{TempID: tempID, SentAt: r.now()}
		r.changed = append(r.changed, Change{ConversationID: convID})
		r.unlockAndEmit()
		return e.Message, nil
	}
	r.mu.Unlock()
	return domain.WireMessage{}, ErrUnknownMessage
}

// OpenConversation makes peerID's conversation the active one and clears
// its unread count.
func (r *Reconciler) OpenConversation(peerID string) string {
	convID := domain.ConversationID(r.self, peerID)
	r.mu.Lock()
	r.active = convID
	if s, ok := r.convs[convID]; ok {
		s.UnreadCount = 0
	}
	r.changed = append(r.changed, Change{})
	r.unlockAndEmit()
	return convID
}

func (r *Reconciler) CloseConversation() {
	r.mu.Lock()
	r.active = ""
	r.mu.Unlock()
}

func (r *Reconciler) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// MarkRead clears the unread count of convID.
func (r *Reconciler) MarkRead(convID string) {
	r.mu.Lock()
	if s, ok := r.convs[convID]; ok && s.UnreadCount != 0 {
		s.UnreadCount = 0
		r.changed = append(r.changed, Change{})
	}
	r.unlockAndEmit()
}

func (r *Reconciler) applySeen(convID, seenBy string) {
	if seenBy == r.self {
		r.MarkRead(convID)
		return
	}
	at := domain.EpochMillis(r.now())
	r.mu.Lock()
	list := r.msgs[convID]
	for i, e := range list {
		if e.Message.From == r.self && e.Message.To == seenBy && !e.Message.Seen {
			list[i].Message.Seen = true
			ts := at
			list[i].Message.SeenAt = &ts
		}
	}
	r.changed = append(r.changed, Change{ConversationID: convID})
	r.unlockAndEmit()
}

// PrependHistory merges an older page of peerID's conversation. It returns
// the id of the entry that was first before the merge and how many entries
// were inserted, so a view can keep that entry where it was.
func (r *Reconciler) PrependHistory(peerID string, page []domain.WireMessage, hasMore bool) (string, int) {
	convID := domain.ConversationID(r.self, peerID)
	r.mu.Lock()
	list := r.msgs[convID]
	anchor := ""
	if len(list) > 0 {
		anchor = list[0].Message.ID
	}
	known := make(map[string]struct{}, len(list))
	for _, e := range list {
		known[e.Message.ID] = struct{}{}
	}
	added := 0
	for _, m := range page {
		if _, dup := known[m.ID]; dup {
			continue
		}
		known[m.ID] = struct{}{}
		list = append(list, Entry{Message: m, Delivery: Confirmed{ServerID: m.ID}})
		added++
	}
	sortEntries(list)
	r.msgs[convID] = list
	r.hasMore[convID] = hasMore
	inserted := len(list)
	for i, e := range list {
		if e.Message.ID == anchor {
			inserted = i
			break
		}
	}
	if anchor == "" {
		inserted = added
	}
	r.changed = append(r.changed, Change{ConversationID: convID})
	r.unlockAndEmit()
	return anchor, inserted
}

// Oldest returns the timestamp of the oldest loaded message of peerID's
// conversation, or 0 when none is loaded.
func (r *Reconciler) Oldest(peerID string) int64 {
	convID := domain.ConversationID(r.self, peerID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if list := r.msgs[convID]; len(list) > 0 {
		return list[0].Message.Timestamp
	}
	return 0
}

func (r *Reconciler) HasMore(peerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore[domain.ConversationID(r.self, peerID)]
}

func (r *Reconciler) Messages(peerID string) []Entry {
	convID := domain.ConversationID(r.self, peerID)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.msgs[convID]...)
}

// Conversations returns the summary rows, newest first.
func (r *Reconciler) Conversations() []domain.ConversationSummary {
	r.mu.Lock()
	out := make([]domain.ConversationSummary, 0, len(r.convs))
	for _, s := range r.convs {
		out = append(out, *s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Reconciler) Conversation(peerID string) (domain.ConversationSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.convs[domain.ConversationID(r.self, peerID)]
	if !ok {
		return domain.ConversationSummary{}, false
	}
	return *s, true
}

func (r *Reconciler) PresenceOf(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[userID]
}

// PatchProfile replaces the peer profile of every row with p's id.
func (r *Reconciler) PatchProfile(p domain.UserProfile) {
	r.mu.Lock()
	for _, s := range r.convs {
		if s.Peer.ID == p.ID {
			s.Peer = p
		}
	}
	r.changed = append(r.changed, Change{})
	r.unlockAndEmit()
}

// touchSummaryLocked upserts the row of m's conversation. A row for an
// unknown peer starts as a placeholder and its profile is fetched in the
// background.
func (r *Reconciler) touchSummaryLocked(m domain.WireMessage, unread bool) {
	peer := m.To
	if m.From != r.self {
		peer = m.From
	}
	s, ok := r.convs[m.ChatID]
	if !ok {
		s = &domain.ConversationSummary{
			ID:   m.ChatID,
			Peer: domain.UserProfile{ID: peer, Name: domain.UnknownUserName},
		}
		r.convs[m.ChatID] = s
		r.fetchProfileLocked(peer)
	}
	if m.Timestamp >= s.LastMessageAt {
		s.LastMessage = m.Text
		s.LastMessageAt = m.Timestamp
	}
	if unread {
		s.UnreadCount++
	}
}

func (r *Reconciler) fetchProfileLocked(userID string) {
	if r.profiles == nil || userID == "" || r.fetching[userID] {
		return
	}
	r.fetching[userID] = true
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p, err := r.profiles.Profile(ctx, userID)

		r.mu.Lock()
		delete(r.fetching, userID)
		r.mu.Unlock()
		if err != nil || p == nil {
			r.log.Warn("client - reconciler - profile fetch failed", "user_id", userID, "err", err)
			return
		}
		r.PatchProfile(*p)
	}()
}

func (r *Reconciler) unlockAndEmit() {
	changed := r.changed
	r.changed = nil
	r.emitMu.Lock()
	r.mu.Unlock()
	seen := make(map[Change]struct{}, len(changed))
	for _, c := range changed {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		r.Changes.Publish(c)
	}
	r.emitMu.Unlock()
}

func sortEntries(list []Entry) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Message.Timestamp < list[j].Message.Timestamp
	})
}
