package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codevn-dev/codevn-app-sub001/internal/core/contracts"
	"github.com/codevn-dev/codevn-app-sub001/internal/platform/metrics"
)

// ErrWorkerStopped is returned by WaitReady when the user's worker exited
// before it became ready.
var ErrWorkerStopped = errors.New("user worker stopped before ready")

// WorkerFunc runs for as long as a user has local connections. It calls ready
// once it can receive frames for the user.
type WorkerFunc func(ctx context.Context, userID string, ready func()) error

type userWorker struct {
	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}
}

// Registry maps user ids to their live connections on this node. It is
// created at process start and torn down with Close at shutdown.
type Registry struct {
	log *slog.Logger

	mu         sync.RWMutex
	clients    map[string]map[string]contracts.Client // user_id → conn_id → client
	workers    map[string]*userWorker
	run_worker WorkerFunc
	closed     bool

	// emitMu keeps transitions in mutation order without holding mu while
	// observers run.
	emitMu  sync.Mutex
	subMu   sync.RWMutex
	subs    map[int]func(contracts.Transition)
	nextSub int
}

var _ contracts.Registry = (*Registry)(nil)

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:     log,
		clients: make(map[string]map[string]contracts.Client),
		workers: make(map[string]*userWorker),
		subs:    make(map[int]func(contracts.Transition)),
	}
}

// RunWorker installs a per-user worker started on the user's first local
// connection and cancelled after the last one leaves.
func (h *Registry) RunWorker(run_worker WorkerFunc) {
	h.mu.Lock()
	h.run_worker = run_worker
	h.mu.Unlock()
}

// Subscribe registers fn for presence transitions. The returned func removes
// it and is safe to call more than once.
func (h *Registry) Subscribe(fn func(contracts.Transition)) func() {
	h.subMu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.subMu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			h.subMu.Lock()
			delete(h.subs, id)
			h.subMu.Unlock()
		})
	}
}

func (h *Registry) Register(c contracts.Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.Close()
		return false
	}
	userID := c.UserID()
	conns := h.clients[userID]
	if _, dup := conns[c.ID()]; dup {
		h.mu.Unlock()
		return false
	}
	first := len(conns) == 0
	if first {
		conns = make(map[string]contracts.Client)
		h.clients[userID] = conns
		if h.run_worker != nil {
			h.workers[userID] = h.startWorker(userID, h.run_worker)
		}
	}
	conns[c.ID()] = c
	metrics.ActiveConnections.Inc()
	if first {
		metrics.OnlineUsers.Inc()
	}
	h.emitMu.Lock()
	h.mu.Unlock()
	if first {
		h.emit(contracts.Transition{UserID: userID, Online: true, At: time.Now()})
	}
	h.emitMu.Unlock()
	h.log.Debug("registry - register - connection added", "user_id", userID, "conn_id", c.ID(), "first", first)
	return first
}

func (h *Registry) Unregister(c contracts.Client) bool {
	h.mu.Lock()
	userID := c.UserID()
	conns, ok := h.clients[userID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	if _, ok := conns[c.ID()]; !ok {
		h.mu.Unlock()
		return false
	}
	delete(conns, c.ID())
	metrics.ActiveConnections.Dec()
	last := len(conns) == 0
	if last {
		delete(h.clients, userID)
		metrics.OnlineUsers.Dec()
		// stop worker
		if w := h.workers[userID]; w != nil {
			w.cancel()
			delete(h.workers, userID)
		}
	}
	h.emitMu.Lock()
	h.mu.Unlock()
	if last {
		h.emit(contracts.Transition{UserID: userID, Online: false, At: time.Now()})
	}
	h.emitMu.Unlock()
	h.log.Debug("registry - unregister - connection removed", "user_id", userID, "conn_id", c.ID(), "last", last)
	return last
}

func (h *Registry) startWorker(userID string, run WorkerFunc) *userWorker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &userWorker{
		cancel: cancel,
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	var once sync.Once
	ready := func() { once.Do(func() { close(w.ready) }) }
	go func() {
		defer close(w.done)
		if err := run(ctx, userID, ready); err != nil {
			h.log.Error("registry - run worker - worker failed", "user_id", userID, "err", err)
		}
	}()
	return w
}

// WaitReady blocks until the user's worker, if one is installed, can receive
// frames. Without a worker it returns at once.
func (h *Registry) WaitReady(ctx context.Context, userID string) error {
	h.mu.RLock()
	w := h.workers[userID]
	h.mu.RUnlock()
	if w == nil {
		return nil
	}
	select {
	case <-w.ready:
		return nil
	case <-w.done:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Registry) emit(t contracts.Transition) {
	h.subMu.RLock()
	fns := make([]func(contracts.Transition), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subMu.RUnlock()
	for _, fn := range fns {
		fn(t)
	}
}

func (h *Registry) ConnectionsFor(userID string) []contracts.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := h.clients[userID]
	out := make([]contracts.Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (h *Registry) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

func (h *Registry) OnlineUsers() []string {
	h.mu.RLock()
	out := make([]string, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (h *Registry) SendToUser(ctx context.Context, userID string, data []byte, exceptConnID string) int {
	delivered := 0
	for _, c := range h.ConnectionsFor(userID) {
		if c.ID() == exceptConnID {
			continue
		}
		if err := c.Send(ctx, data); err != nil {
			// the socket is going away; its handler unregisters it
			h.log.Debug("registry - send to user - skipped connection", "user_id", userID, "conn_id", c.ID(), "err", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Close drops every connection without emitting transitions.
func (h *Registry) Close() {
	h.mu.Lock()
	h.closed = true
	var all []contracts.Client
	for _, conns := range h.clients {
		for _, c := range conns {
			all = append(all, c)
		}
	}
	for _, w := range h.workers {
		w.cancel()
	}
	metrics.ActiveConnections.Sub(float64(len(all)))
	metrics.OnlineUsers.Sub(float64(len(h.clients)))
	h.clients = make(map[string]map[string]contracts.Client)
	h.workers = make(map[string]*userWorker)
	h.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
}
