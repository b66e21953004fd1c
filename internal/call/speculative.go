package call

import (
	"context"
	"strings"
	"sync"
	"time"
)

// TranscribeFunc transcribes 8 kHz PCM16 speech.
type TranscribeFunc func(ctx context.Context, pcm []byte) (string, error)

// Speculator transcribes the segment in progress in the background so a
// finished utterance can skip the blocking transcription. Only the newest
// run's result is kept; starting a run cancels the previous one.
type Speculator struct {
	cfg        SpeculativeConfig
	transcribe TranscribeFunc

	mu         sync.Mutex
	lastStart  time.Time
	startedLen int
	gen        uint64
	cancel     context.CancelFunc
	pending    string
	pendingLen int
	hasPending bool
}

// NewSpeculator returns a Speculator that uses transcribe for each run.
func NewSpeculator(cfg SpeculativeConfig, transcribe TranscribeFunc) *Speculator {
	return &Speculator{cfg: cfg, transcribe: transcribe}
}

// Due reports whether a buffer of n bytes would start a run at now. It
// lets callers skip copying the segment when nothing would happen.
func (s *Speculator) Due(now time.Time, n int) bool {
	if !s.cfg.Enabled || s.transcribe == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < s.cfg.MinBytes || n == s.startedLen {
		return false
	}
	return s.lastStart.IsZero() || now.Sub(s.lastStart) >= s.cfg.Interval
}

// MaybeStart starts a background run over snapshot when speculation is
// enabled, the interval has elapsed since the previous run, the snapshot is
// at least MinBytes and it holds audio the previous run did not see.
func (s *Speculator) MaybeStart(ctx context.Context, now time.Time, snapshot []byte) bool {
	if !s.cfg.Enabled || s.transcribe == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(snapshot) < s.cfg.MinBytes || len(snapshot) == s.startedLen {
		return false
	}
	if !s.lastStart.IsZero() && now.Sub(s.lastStart) < s.cfg.Interval {
		return false
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.lastStart = now
	s.startedLen = len(snapshot)

	go func() {
		defer cancel()
		text, err := s.transcribe(runCtx, snapshot)
		if err != nil {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.gen {
			return
		}
		s.pending = text
		s.pendingLen = len(snapshot)
		s.hasPending = true
	}()
	return true
}

// Take returns the pending transcript if it covered exactly segmentBytes of
// speech and has at least minChars characters. The result is consumed.
func (s *Speculator) Take(segmentBytes, minChars int) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPending {
		return "", false
	}
	text, n := strings.TrimSpace(s.pending), s.pendingLen
	s.pending, s.pendingLen, s.hasPending = "", 0, false
	if n != segmentBytes || len([]rune(text)) < max(minChars, 1) {
		return "", false
	}
	return text, true
}

// Reset cancels any in-flight run and clears all state.
func (s *Speculator) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
	s.lastStart = time.Time{}
	s.startedLen = 0
	s.pending, s.pendingLen, s.hasPending = "", 0, false
}
