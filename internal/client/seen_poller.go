package client

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSeenInterval is how often an open chat window re-marks its
// conversation as seen.
const DefaultSeenInterval = 5 * time.Second

// SeenPoller marks the open conversation seen on a fixed cadence. Each Open
// starts a task that lives until Close or the next Open.
type SeenPoller struct {
	interval time.Duration
	mark     func(ctx context.Context, chatID string) error
	log      *slog.Logger

	mu     sync.Mutex
	chatID string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSeenPoller(interval time.Duration, mark func(ctx context.Context, chatID string) error, log *slog.Logger) *SeenPoller {
	if interval <= 0 {
		interval = DefaultSeenInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &SeenPoller{interval: interval, mark: mark, log: log}
}

// Open marks chatID seen right away and then every interval.
func (p *SeenPoller) Open(chatID string) {
	p.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.mu.Lock()
	p.chatID, p.cancel, p.done = chatID, cancel, done
	p.mu.Unlock()
	go p.run(ctx, chatID, done)
}

// Close stops the running task and waits for it to exit.
func (p *SeenPoller) Close() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.chatID, p.cancel, p.done = "", nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (p *SeenPoller) ChatID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chatID
}

func (p *SeenPoller) run(ctx context.Context, chatID string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.mark(ctx, chatID); err != nil && ctx.Err() == nil {
			p.log.Warn("client - seen poller - mark failed", "conv_id", chatID, "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
