package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusSubscribeDispose(t *testing.T) {
	b := NewBus[int]()
	var got []int
	dispose := b.Subscribe(func(v int) { got = append(got, v) })
	b.Subscribe(func(v int) { got = append(got, v*10) })

	b.Publish(1)
	dispose()
	dispose()
	b.Publish(2)

	assert.Equal(t, []int{1, 10, 20}, got)
}

func TestTypingTrackerAutoClear(t *testing.T) {
	tr := NewTypingTracker(10 * time.Millisecond)
	events := make(chan TypingEvent, 8)
	tr.Events.Subscribe(func(e TypingEvent) { events <- e })

	tr.Set("bob", true)
	assert.True(t, tr.IsTyping("bob"))
	assert.Equal(t, TypingEvent{UserID: "bob", IsTyping: true}, <-events)

	select {
	case e := <-events:
		assert.Equal(t, TypingEvent{UserID: "bob", IsTyping: false}, e)
	case <-time.After(time.Second):
		t.Fatal("typing never cleared")
	}
	assert.False(t, tr.IsTyping("bob"))

	// a stop without a start is silent
	tr.Set("carol", false)
	select {
	case e := <-events:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestTypingTrackerExplicitStop(t *testing.T) {
	tr := NewTypingTracker(time.Hour)
	var mu sync.Mutex
	var got []TypingEvent
	tr.Events.Subscribe(func(e TypingEvent) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	tr.Set("bob", true)
	tr.Set("bob", true)
	tr.Set("bob", false)
	assert.False(t, tr.IsTyping("bob"))
	tr.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []TypingEvent{
		{UserID: "bob", IsTyping: true},
		{UserID: "bob", IsTyping: true},
		{UserID: "bob", IsTyping: false},
	}, got)
}

func TestSeenPollerLifecycle(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	var chats []string
	p := NewSeenPoller(5*time.Millisecond, func(ctx context.Context, chatID string) error {
		calls.Add(1)
		mu.Lock()
		chats = append(chats, chatID)
		mu.Unlock()
		return errors.New("offline")
	}, nil)

	p.Open("a_b")
	assert.Equal(t, "a_b", p.ChatID())
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	p.Open("a_c")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return chats[len(chats)-1] == "a_c"
	}, time.Second, time.Millisecond)

	p.Close()
	assert.Equal(t, "", p.ChatID())
	stopped := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
	p.Close()
}
