// Package mock provides a scripted VAD engine for tests.
//
// Every session an Engine creates replays Script, one event per frame, and
// then keeps returning Idle. Sessions are recorded so tests can check the
// configuration a call used and that it released the session.
//
//	eng := &mock.Engine{Script: []vad.VADEvent{{Type: vad.VADSpeechStart, Probability: 0.9}}}
package mock

import (
	"sync"

	"github.com/MrWong99/phonoxa/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Script is replayed by every new session.
	Script []vad.VADEvent

	// Idle is returned once a session's script is exhausted. The zero value
	// is a speech start, so most tests set it to a silence event.
	Idle vad.VADEvent

	// Err, if non-nil, is returned by NewSession.
	Err error

	// Sessions records every session handed out, in order.
	Sessions []*Session
}

var _ vad.Engine = (*Engine)(nil)

// NewSession returns a session replaying e.Script.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	s := &Session{Config: cfg, script: append([]vad.VADEvent(nil), e.Script...), idle: e.Idle}
	e.Sessions = append(e.Sessions, s)
	return s, nil
}

// Last returns the most recent session, or nil.
func (e *Engine) Last() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.Sessions) == 0 {
		return nil
	}
	return e.Sessions[len(e.Sessions)-1]
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	// Config is the configuration the session was created with.
	Config vad.Config

	mu     sync.Mutex
	script []vad.VADEvent
	idle   vad.VADEvent
	frames int
	resets int
	closed bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame returns the next scripted event.
func (s *Session) ProcessFrame([]byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	if len(s.script) == 0 {
		return s.idle, nil
	}
	ev := s.script[0]
	s.script = s.script[1:]
	return ev, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Frames returns the number of frames processed.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
