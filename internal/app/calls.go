package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/phonoxa/internal/call"
)

// ErrCallNotFound is returned by [CallManager.Hangup] for unknown call ids.
var ErrCallNotFound = errors.New("app: call not found")

// errDraining is returned by [CallManager.acquire] once draining started.
var errDraining = errors.New("app: draining, not accepting calls")

// Call is the view of a running call the manager needs.
// [*call.Session] implements it.
type Call interface {
	ID() string
	Info() call.Info
	Hangup()
}

var _ Call = (*call.Session)(nil)

// CallManager tracks the active calls of the server.
// All exported methods are safe for concurrent use.
type CallManager struct {
	mu       sync.Mutex
	active   map[string]Call
	draining bool

	// inflight counts media-stream connections, including calls that have
	// not yet been identified by their start event.
	inflight sync.WaitGroup

	// killCtx is cancelled when a drain runs out of time.
	killCtx context.Context
	kill    context.CancelFunc
}

// NewCallManager returns an empty CallManager.
func NewCallManager() *CallManager {
	killCtx, kill := context.WithCancel(context.Background())
	return &CallManager{active: make(map[string]Call), killCtx: killCtx, kill: kill}
}

// acquire reserves a slot for a new media-stream connection and returns the
// context the connection runs under. release must be called when the
// connection ends.
func (m *CallManager) acquire(ctx context.Context) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return nil, nil, errDraining
	}
	m.inflight.Add(1)

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.killCtx, cancel)
	release := func() {
		stop()
		cancel()
		m.inflight.Done()
	}
	return ctx, release, nil
}

// Track registers c under its call id.
func (m *CallManager) Track(c Call) {
	id := c.ID()
	if id == "" {
		return
	}
	m.mu.Lock()
	m.active[id] = c
	n := len(m.active)
	m.mu.Unlock()
	slog.Debug("call tracked", "call_id", id, "active", n)
}

// Untrack removes c. Calls that never started are ignored.
func (m *CallManager) Untrack(c Call) {
	id := c.ID()
	if id == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[id] == c {
		delete(m.active, id)
	}
}

// Hangup ends the call with the given id without a farewell.
func (m *CallManager) Hangup(id string) error {
	m.mu.Lock()
	c, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, id)
	}
	c.Hangup()
	slog.Info("call hangup requested", "call_id", id)
	return nil
}

// List returns the active calls ordered by start time.
func (m *CallManager) List() []call.Info {
	m.mu.Lock()
	infos := make([]call.Info, 0, len(m.active))
	for _, c := range m.active {
		infos = append(infos, c.Info())
	}
	m.mu.Unlock()

	slices.SortFunc(infos, func(a, b call.Info) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.CallID, b.CallID)
	})
	return infos
}

// Len returns the number of active calls.
func (m *CallManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Draining reports whether [CallManager.Drain] has been called.
func (m *CallManager) Draining() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draining
}

// Drain stops accepting connections and waits for the running ones to end.
// When ctx expires first, every connection is cancelled and Drain waits for
// them to unwind before returning ctx's error.
func (m *CallManager) Drain(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	n := len(m.active)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	if n > 0 {
		slog.Info("draining active calls", "active", n)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	slog.Warn("drain deadline exceeded, hanging up", "remaining", m.Len())
	m.kill()
	<-done
	return ctx.Err()
}
