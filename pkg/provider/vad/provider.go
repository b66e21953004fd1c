// Package vad defines the Engine interface for Voice Activity Detection backends.
//
// An Engine hands out one SessionHandle per audio stream. Sessions keep their
// own smoothing state, so every call gets its own session and frames are
// classified synchronously as they arrive.
//
// Engines must be safe for concurrent use. A SessionHandle is owned by a single
// goroutine.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz of the frames passed to
	// ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each frame in milliseconds.
	FrameSizeMs int

	// SpeechThreshold is the probability at or above which a frame counts as
	// speech. Range: [0.0, 1.0].
	SpeechThreshold float64

	// SilenceThreshold is the probability below which an active speech run is
	// considered to be ending. Must be ≤ SpeechThreshold.
	SilenceThreshold float64
}

// SessionHandle is an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame classifies one frame of little-endian PCM16. It returns an
	// error if the frame does not match the configured size. It must not block.
	ProcessFrame(frame []byte) (VADEvent, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
type Engine interface {
	// NewSession creates a session ready to accept frames. It returns an error
	// if cfg is invalid for this engine.
	NewSession(cfg Config) (SessionHandle, error)
}
