// Package energy provides a pure-Go VAD engine that classifies frames by RMS
// energy with hysteresis. It needs no model files and suits 8 kHz telephony
// audio, where the caller's handset already suppresses most background noise.
package energy

import (
	"errors"
	"fmt"
	"math"

	"github.com/MrWong99/phonoxa/pkg/audio"
	"github.com/MrWong99/phonoxa/pkg/provider/vad"
)

const (
	defaultReference     = 1000.0
	defaultSpeechFrames  = 2
	defaultSilenceFrames = 5
)

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("energy vad: session closed")

// Option configures an Engine.
type Option func(*Engine)

// WithReference sets the RMS that maps to probability 1.0.
func WithReference(rms float64) Option {
	return func(e *Engine) {
		if rms > 0 {
			e.reference = rms
		}
	}
}

// WithSpeechFrames sets how many consecutive loud frames start speech.
func WithSpeechFrames(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.speechFrames = n
		}
	}
}

// WithSilenceFrames sets how many consecutive quiet frames end speech.
func WithSilenceFrames(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.silenceFrames = n
		}
	}
}

// Engine creates energy VAD sessions.
type Engine struct {
	reference     float64
	speechFrames  int
	silenceFrames int
}

// New returns an Engine with the given options applied.
func New(opts ...Option) *Engine {
	e := &Engine{
		reference:     defaultReference,
		speechFrames:  defaultSpeechFrames,
		silenceFrames: defaultSilenceFrames,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 || cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy vad: invalid frame format %d Hz / %d ms", cfg.SampleRate, cfg.FrameSizeMs)
	}
	if cfg.SpeechThreshold <= 0 || cfg.SpeechThreshold > 1 {
		return nil, fmt.Errorf("energy vad: speech threshold %.2f out of range (0, 1]", cfg.SpeechThreshold)
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, fmt.Errorf("energy vad: silence threshold %.2f must be in [0, %.2f]", cfg.SilenceThreshold, cfg.SpeechThreshold)
	}
	return &Session{
		cfg:        cfg,
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		reference:  e.reference,
		speechN:    e.speechFrames,
		silenceN:   e.silenceFrames,
	}, nil
}

// Session is a single-stream hysteresis detector.
type Session struct {
	cfg        vad.Config
	frameBytes int
	reference  float64
	speechN    int
	silenceN   int

	inSpeech     bool
	speechCount  int
	silenceCount int
	closed       bool
}

// ProcessFrame implements vad.SessionHandle.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	if s.closed {
		return vad.VADEvent{}, ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.VADEvent{}, fmt.Errorf("energy vad: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}

	p := math.Min(1, audio.RMS(frame)/s.reference)
	ev := vad.VADEvent{Probability: p}

	if s.inSpeech {
		if p < s.cfg.SilenceThreshold {
			s.silenceCount++
			if s.silenceCount >= s.silenceN {
				s.inSpeech = false
				s.silenceCount = 0
				ev.Type = vad.VADSpeechEnd
				return ev, nil
			}
		} else {
			s.silenceCount = 0
		}
		ev.Type = vad.VADSpeechContinue
		return ev, nil
	}

	if p >= s.cfg.SpeechThreshold {
		s.speechCount++
		if s.speechCount >= s.speechN {
			s.inSpeech = true
			s.speechCount = 0
			ev.Type = vad.VADSpeechStart
			return ev, nil
		}
	} else {
		s.speechCount = 0
	}
	ev.Type = vad.VADSilence
	return ev, nil
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.inSpeech = false
	s.speechCount = 0
	s.silenceCount = 0
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.closed = true
	return nil
}
