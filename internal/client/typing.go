package client

import (
	"sync"
	"time"
)

// DefaultTypingTimeout clears a typing indicator that never got its stop
// frame.
const DefaultTypingTimeout = 4 * time.Second

type TypingEvent struct {
	UserID   string
	IsTyping bool
}

// TypingTracker holds which peers are typing. Each start re-arms the peer's
// auto-clear timer.
type TypingTracker struct {
	timeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	seq    map[string]uint64

	Events *Bus[TypingEvent]
}

func NewTypingTracker(timeout time.Duration) *TypingTracker {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingTracker{
		timeout: timeout,
		timers:  make(map[string]*time.Timer),
		seq:     make(map[string]uint64),
		Events:  NewBus[TypingEvent](),
	}
}

func (t *TypingTracker) Set(userID string, typing bool) {
	t.mu.Lock()
	old := t.timers[userID]
	if old != nil {
		old.Stop()
		delete(t.timers, userID)
	}
	t.seq[userID]++
	if typing {
		seq := t.seq[userID]
		t.timers[userID] = time.AfterFunc(t.timeout, func() { t.expire(userID, seq) })
	}
	t.mu.Unlock()
	if typing || old != nil {
		t.Events.Publish(TypingEvent{UserID: userID, IsTyping: typing})
	}
}

func (t *TypingTracker) IsTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timers[userID] != nil
}

// Stop cancels every timer.
func (t *TypingTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

func (t *TypingTracker) expire(userID string, seq uint64) {
	t.mu.Lock()
	if t.seq[userID] != seq {
		t.mu.Unlock()
		return
	}
	delete(t.timers, userID)
	t.mu.Unlock()
	t.Events.Publish(TypingEvent{UserID: userID, IsTyping: false})
}
