package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProfiles struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	err   error
}

func (s *stubProfiles) Profile(_ context.Context, id string) (*domain.UserProfile, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return &domain.UserProfile{ID: id, Name: "Name of " + id, Avatar: "/a/" + id}, nil
}

func newTestReconciler(self string, profiles ProfileFetcher) *Reconciler {
	r := NewReconciler(self, profiles, slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := time.UnixMilli(1_700_000_000_000)
	var mu sync.Mutex
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Millisecond)
		return clock
	}
	n := 0
	r.newTempID = func() string {
		n++
		return fmt.Sprintf("%s%d", TempPrefix, n)
	}
	return r
}

func serverMsg(id, from, to, text string, ts int64) domain.WireMessage {
	return domain.WireMessage{
		ID:        id,
		Type:      domain.KindMessage,
		ChatID:    domain.ConversationID(from, to),
		From:      from,
		To:        to,
		Text:      text,
		Timestamp: ts,
	}
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message.ID)
	}
	return out
}

func TestOptimisticSendReplacedByEcho(t *testing.T) {
	r := newTestReconciler("alice", nil)
	m, err := r.SendOptimistic("bob", "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Text)
	assert.Equal(t, "temp-1", m.TempID)

	entries := r.Messages("bob")
	require.Len(t, entries, 1)
	pending, ok := entries[0].Delivery.(Pending)
	require.True(t, ok)
	assert.Equal(t, "temp-1", pending.TempID)

	echo := serverMsg("m1", "alice", "bob", "hello", 1_700_000_000_500)
	echo.TempID = "temp-1"
	r.Apply(domain.MessageSentFrame(echo))

	entries = r.Messages("bob")
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].Message.ID)
	assert.Equal(t, Confirmed{ServerID: "m1"}, entries[0].Delivery)

	// a second copy of the same echo does not duplicate
	r.Apply(domain.MessageSentFrame(echo))
	assert.Equal(t, []string{"m1"}, ids(r.Messages("bob")))
}

func TestEchoMatchedBySenderAndText(t *testing.T) {
	r := newTestReconciler("alice", nil)
	_, err := r.SendOptimistic("bob", "one")
	require.NoError(t, err)
	_, err = r.SendOptimistic("bob", "two")
	require.NoError(t, err)

	// an echo from another tab carries no temp id
	r.Confirm(serverMsg("m2", "alice", "bob", "two", 1_700_000_000_010))

	entries := r.Messages("bob")
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"temp-1", "m2"}, ids(entries))
	assert.IsType(t, Pending{}, entries[0].Delivery)
}

func TestOldIdenticalMessageDoesNotConfirmPending(t *testing.T) {
	r := newTestReconciler("alice", nil)
	_, err := r.SendOptimistic("bob", "ok")
	require.NoError(t, err)

	// the same text sent from another tab an hour earlier, seen on resync
	old := serverMsg("m0", "alice", "bob", "ok", 1_700_000_000_000-time.Hour.Milliseconds())
	r.Confirm(old)

	entries := r.Messages("bob")
	require.Len(t, entries, 2)
	assert.Equal(t, []string{"m0", "temp-1"}, ids(entries))
	assert.IsType(t, Pending{}, entries[1].Delivery)

	// failed entries are left to an explicit retry
	require.NoError(t, r.Fail("temp-1", ReasonUnsent))
	r.Confirm(serverMsg("m1", "alice", "bob", "ok", 1_700_000_000_005))
	entries = r.Messages("bob")
	require.Len(t, entries, 3)
	assert.IsType(t, Failed{}, entries[1].Delivery)
}

func TestInboundMessagesAreSorted(t *testing.T) {
	r := newTestReconciler("bob", nil)
	r.Confirm(serverMsg("m2", "alice", "bob", "second", 20))
	r.Confirm(serverMsg("m1", "alice", "bob", "first", 10))
	r.Confirm(serverMsg("m3", "alice", "bob", "third", 30))
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids(r.Messages("alice")))

	conv, ok := r.Conversation("alice")
	require.True(t, ok)
	assert.Equal(t, "third", conv.LastMessage)
	assert.Equal(t, int64(30), conv.LastMessageAt)
}

func TestUnreadIsolation(t *testing.T) {
	alice := newTestReconciler("alice", nil)
	bob := newTestReconciler("bob", nil)
	chatID := domain.ConversationID("alice", "bob")

	for i := 1; i <= 3; i++ {
		sent, err := alice.SendOptimistic("bob", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
		m := serverMsg(fmt.Sprintf("m%d", i), "alice", "bob", sent.Text, int64(i*10))
		bob.Apply(domain.NewMessageFrame(m))
		m.TempID = sent.TempID
		alice.Apply(domain.MessageSentFrame(m))
	}

	b, _ := bob.Conversation("alice")
	assert.Equal(t, 3, b.UnreadCount)
	a, _ := alice.Conversation("bob")
	assert.Equal(t, 0, a.UnreadCount)
	assert.Len(t, alice.Messages("bob"), 3)

	bob.OpenConversation("alice")
	b, _ = bob.Conversation("alice")
	assert.Equal(t, 0, b.UnreadCount)

	// while open, new messages do not count
	bob.Apply(domain.NewMessageFrame(serverMsg("m4", "alice", "bob", "msg 4", 40)))
	b, _ = bob.Conversation("alice")
	assert.Equal(t, 0, b.UnreadCount)

	bob.CloseConversation()
	bob.Apply(domain.NewMessageFrame(serverMsg("m5", "alice", "bob", "msg 5", 50)))
	b, _ = bob.Conversation("alice")
	assert.Equal(t, 1, b.UnreadCount)

	// bob's own seen receipt from another tab resets it
	bob.Apply(domain.MessagesSeenFrame(chatID, "bob"))
	b, _ = bob.Conversation("alice")
	assert.Equal(t, 0, b.UnreadCount)
}

func TestPeerSeenFlipsOwnMessages(t *testing.T) {
	r := newTestReconciler("alice", nil)
	r.Confirm(serverMsg("m1", "alice", "bob", "hi", 10))
	r.Confirm(serverMsg("m2", "bob", "alice", "yo", 20))

	r.Apply(domain.MessagesSeenFrame(domain.ConversationID("alice", "bob"), "bob"))

	entries := r.Messages("bob")
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Message.Seen)
	assert.NotNil(t, entries[0].Message.SeenAt)
	assert.False(t, entries[1].Message.Seen)

	// a stale echo never reverts seen
	r.Confirm(serverMsg("m1", "alice", "bob", "hi", 10))
	assert.True(t, r.Messages("bob")[0].Message.Seen)
}

func TestUnknownPeerPlaceholderPatched(t *testing.T) {
	profiles := &stubProfiles{gate: make(chan struct{})}
	r := newTestReconciler("bob", profiles)

	r.Apply(domain.NewMessageFrame(serverMsg("m1", "carol", "bob", "hey", 10)))
	r.Apply(domain.NewMessageFrame(serverMsg("m2", "carol", "bob", "there?", 20)))

	conv, ok := r.Conversation("carol")
	require.True(t, ok)
	assert.Equal(t, domain.UnknownUserName, conv.Peer.Name)
	assert.Len(t, r.Messages("carol"), 2)

	close(profiles.gate)
	require.Eventually(t, func() bool {
		c, _ := r.Conversation("carol")
		return c.Peer.Name == "Name of carol"
	}, time.Second, time.Millisecond)
	profiles.mu.Lock()
	assert.Equal(t, 1, profiles.calls)
	profiles.mu.Unlock()
}

func TestProfileFailureKeepsPlaceholder(t *testing.T) {
	profiles := &stubProfiles{err: errors.New("boom")}
	r := newTestReconciler("bob", profiles)
	r.Apply(domain.NewMessageFrame(serverMsg("m1", "carol", "bob", "hey", 10)))
	require.Eventually(t, func() bool {
		profiles.mu.Lock()
		defer profiles.mu.Unlock()
		return profiles.calls == 1
	}, time.Second, time.Millisecond)
	conv, _ := r.Conversation("carol")
	assert.Equal(t, domain.UnknownUserName, conv.Peer.Name)
	assert.Len(t, r.Messages("carol"), 1)
}

func TestPrependHistoryAnchor(t *testing.T) {
	r := newTestReconciler("alice", nil)
	anchor, inserted := r.PrependHistory("bob", []domain.WireMessage{
		serverMsg("m3", "bob", "alice", "c", 30),
		serverMsg("m4", "alice", "bob", "d", 40),
	}, true)
	assert.Equal(t, "", anchor)
	assert.Equal(t, 2, inserted)
	assert.True(t, r.HasMore("bob"))
	assert.Equal(t, int64(30), r.Oldest("bob"))

	anchor, inserted = r.PrependHistory("bob", []domain.WireMessage{
		serverMsg("m1", "bob", "alice", "a", 10),
		serverMsg("m2", "alice", "bob", "b", 20),
		serverMsg("m3", "bob", "alice", "c", 30),
	}, false)
	assert.Equal(t, "m3", anchor)
	assert.Equal(t, 2, inserted)
	assert.False(t, r.HasMore("bob"))
	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, ids(r.Messages("bob")))
}

func TestPersistFailureMarksUnsentAndRetry(t *testing.T) {
	r := newTestReconciler("alice", nil)
	m, err := r.SendOptimistic("bob", "hello")
	require.NoError(t, err)

	r.Apply(domain.ErrorFrame(domain.CodePersistFailed, "store unavailable", m.TempID))
	entries := r.Messages("bob")
	require.Len(t, entries, 1)
	assert.Equal(t, Failed{TempID: m.TempID, Reason: "store unavailable"}, entries[0].Delivery)

	again, err := r.Retry(m.TempID)
	require.NoError(t, err)
	assert.Equal(t, m.TempID, again.TempID)
	assert.IsType(t, Pending{}, r.Messages("bob")[0].Delivery)

	_, err = r.Retry(m.TempID)
	assert.ErrorIs(t, err, ErrNotFailed)
	_, err = r.Retry("temp-unknown")
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestExpirePending(t *testing.T) {
	r := newTestReconciler("alice", nil)
	_, err := r.SendOptimistic("bob", "old")
	require.NoError(t, err)

	assert.Equal(t, 0, r.ExpirePending(time.Hour))
	assert.Equal(t, 1, r.ExpirePending(time.Millisecond))
	assert.Equal(t, Failed{TempID: "temp-1", Reason: ReasonUnsent}, r.Messages("bob")[0].Delivery)
	assert.Equal(t, 0, r.ExpirePending(time.Millisecond))
}

func TestSendOptimisticValidation(t *testing.T) {
	r := newTestReconciler("alice", nil)
	_, err := r.SendOptimistic("bob", "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)
	_, err = r.SendOptimistic("alice", "hi")
	assert.ErrorIs(t, err, domain.ErrSelfMessage)
	_, err = r.SendOptimistic("", "hi")
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
	_, err = r.SendOptimistic("b_c", "hi")
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)
	assert.Empty(t, r.Conversations())
}

func TestPresenceFrames(t *testing.T) {
	r := newTestReconciler("alice", nil)
	r.Apply(domain.ConnectedFrame([]string{"bob", "carol"}))
	assert.True(t, r.PresenceOf("bob"))
	r.Apply(domain.PresenceFrame("bob", false))
	assert.False(t, r.PresenceOf("bob"))
	// a snapshot replaces the set, so stale ids go away
	r.Apply(domain.OnlineUsersFrame([]string{"dave"}))
	assert.True(t, r.PresenceOf("dave"))
	assert.False(t, r.PresenceOf("carol"))

	r.Apply(domain.ConnectedFrame([]string{"bob"}))
	assert.False(t, r.PresenceOf("dave"))
	assert.False(t, r.PresenceOf("carol"))
	assert.True(t, r.PresenceOf("bob"))
}

func TestBootstrapAndOrdering(t *testing.T) {
	profiles := &stubProfiles{}
	r := newTestReconciler("alice", profiles)
	r.Bootstrap([]domain.ConversationSummary{
		{ID: domain.ConversationID("alice", "bob"), Peer: domain.UserProfile{ID: "bob", Name: "Bob"}, LastMessage: "x", LastMessageAt: 10, UnreadCount: 2},
		{ID: domain.ConversationID("alice", "carol"), Peer: domain.UserProfile{ID: "carol", Name: "Carol"}, LastMessage: "y", LastMessageAt: 20},
	})
	convs := r.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, "carol", convs[0].Peer.ID)
	assert.Equal(t, 2, convs[1].UnreadCount)

	r.Confirm(serverMsg("m9", "bob", "alice", "newest", 30))
	convs = r.Conversations()
	assert.Equal(t, "bob", convs[0].Peer.ID)
	assert.Equal(t, 3, convs[0].UnreadCount)
	assert.Equal(t, "Bob", convs[0].Peer.Name)
}

func TestChangesPublished(t *testing.T) {
	r := newTestReconciler("alice", nil)
	var mu sync.Mutex
	var got []Change
	dispose := r.Changes.Subscribe(func(c Change) {
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	})
	_, err := r.SendOptimistic("bob", "hi")
	require.NoError(t, err)
	dispose()
	_, err = r.SendOptimistic("bob", "again")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Change{{ConversationID: domain.ConversationID("alice", "bob")}, {}}, got)
}
