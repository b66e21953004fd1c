package call

import (
	"context"
	"sync"
)

// Sequencer hands out monotonically increasing pipeline ids and keeps at most
// one pipeline task running. A task whose id is no longer current must stop
// before its next side effect.
type Sequencer struct {
	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Next returns a new id, which becomes the current one.
func (s *Sequencer) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// IsCurrent reports whether id is still the newest id.
func (s *Sequencer) IsCurrent(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return id == s.seq
}

// Start cancels any running task and runs fn in a new goroutine with a
// context cancelled by the next Start or Cancel. It returns false without
// running fn if id is no longer current.
func (s *Sequencer) Start(ctx context.Context, id uint64, fn func(ctx context.Context)) bool {
	s.mu.Lock()
	if id != s.seq {
		s.mu.Unlock()
		return false
	}
	if s.cancel != nil {
		s.cancel()
	}
	taskCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			if s.done == done {
				s.cancel, s.done = nil, nil
			}
			s.mu.Unlock()
			cancel()
		}()
		fn(taskCtx)
	}()
	return true
}

// Cancel invalidates the current id and cancels the running task.
func (s *Sequencer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if s.cancel != nil {
		s.cancel()
	}
}

// Active reports whether a task is running.
func (s *Sequencer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Wait blocks until the running task, if any, returns.
func (s *Sequencer) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}
