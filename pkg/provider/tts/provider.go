// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A call synthesizes its reply one sentence fragment at a time, so the
// interface takes a complete fragment and streams audio back as the backend
// produces it. The encoding and rate of that audio are fixed per provider and
// reported by Format; callers transcode to the telephony format themselves.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream synthesizes text with the given voice and returns a
	// channel that emits raw audio chunks in the provider's [Format].
	//
	// The channel is closed when synthesis finishes, fails, or ctx is
	// cancelled. Callers must drain it. A non-nil error is returned only if the
	// stream cannot be started.
	SynthesizeStream(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)

	// Format reports the encoding and sample rate of the audio chunks.
	Format() Format
}
