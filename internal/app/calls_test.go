package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/phonoxa/internal/call"
)

type fakeCall struct {
	info    call.Info
	hangups atomic.Int32
}

var _ Call = (*fakeCall)(nil)

func newFakeCall(id string, started time.Time) *fakeCall {
	return &fakeCall{info: call.Info{CallID: id, StartedAt: started}}
}

func (f *fakeCall) ID() string      { return f.info.CallID }
func (f *fakeCall) Info() call.Info { return f.info }
func (f *fakeCall) Hangup()         { f.hangups.Add(1) }

func TestCallManager_TrackListUntrack(t *testing.T) {
	t.Parallel()
	m := NewCallManager()
	base := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)

	late := newFakeCall("CA2", base.Add(time.Minute))
	early := newFakeCall("CA1", base)
	m.Track(late)
	m.Track(early)
	m.Track(newFakeCall("", base))

	if m.Len() != 2 {
		t.Fatalf("want 2 active calls, got %d", m.Len())
	}
	list := m.List()
	if list[0].CallID != "CA1" || list[1].CallID != "CA2" {
		t.Errorf("want [CA1 CA2] by start time, got [%s %s]", list[0].CallID, list[1].CallID)
	}

	// A different session reusing the id must not evict the tracked one.
	m.Untrack(newFakeCall("CA1", base))
	if m.Len() != 2 {
		t.Errorf("want 2 active calls after foreign untrack, got %d", m.Len())
	}
	m.Untrack(early)
	if m.Len() != 1 {
		t.Errorf("want 1 active call, got %d", m.Len())
	}
}

func TestCallManager_Hangup(t *testing.T) {
	t.Parallel()
	m := NewCallManager()
	c := newFakeCall("CA1", time.Now())
	m.Track(c)

	if err := m.Hangup("CA1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.hangups.Load() != 1 {
		t.Errorf("want 1 hangup, got %d", c.hangups.Load())
	}
	if err := m.Hangup("CA404"); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("want ErrCallNotFound, got %v", err)
	}
}

func TestCallManager_DrainRefusesNewConnections(t *testing.T) {
	t.Parallel()
	m := NewCallManager()

	if err := m.Drain(context.Background()); err != nil {
		t.Fatalf("drain without connections: %v", err)
	}
	if !m.Draining() {
		t.Error("want Draining after Drain")
	}
	if _, _, err := m.acquire(context.Background()); !errors.Is(err, errDraining) {
		t.Errorf("want errDraining, got %v", err)
	}
}

func TestCallManager_DrainWaitsForConnections(t *testing.T) {
	t.Parallel()
	m := NewCallManager()
	_, release, err := m.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Drain(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("drain returned early with %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	release()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("want nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not return after release")
	}
}

func TestCallManager_DrainDeadlineCancelsConnections(t *testing.T) {
	t.Parallel()
	m := NewCallManager()
	connCtx, release, err := m.acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		<-connCtx.Done()
		release()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want DeadlineExceeded, got %v", err)
	}
	if connCtx.Err() == nil {
		t.Error("want the connection context cancelled")
	}
}
