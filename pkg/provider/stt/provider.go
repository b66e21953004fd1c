// Package stt defines the Provider interface for Speech-to-Text backends.
//
// A provider turns one complete utterance of PCM audio into text. The call
// pipeline invokes it once per utterance (and speculatively while the caller
// is still talking), so implementations favour low latency over streaming
// partials.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Request describes the audio handed to Transcribe and optional recognition
// hints.
type Request struct {
	// SampleRate is the PCM sample rate in Hz. The pipeline sends 16000 unless
	// a provider is configured otherwise.
	SampleRate int

	// Language is the BCP-47 language tag (e.g. "en-US"). Empty lets the
	// provider auto-detect.
	Language string

	// Keywords biases recognition towards domain vocabulary such as product or
	// business names.
	Keywords []KeywordBoost
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts 16-bit little-endian mono PCM into text. Empty or very
	// short input yields an empty Transcript and a nil error. The call must
	// honour ctx cancellation and deadlines.
	Transcribe(ctx context.Context, pcm []byte, req Request) (Transcript, error)
}

// MinAudioDuration is the shortest input a provider should bother sending to
// its backend. Anything shorter is returned as an empty transcript.
const MinAudioDuration = 100 // milliseconds

// TooShort reports whether pcm at sampleRate is below MinAudioDuration.
func TooShort(pcm []byte, sampleRate int) bool {
	if sampleRate <= 0 {
		return len(pcm) == 0
	}
	return len(pcm)/2*1000/sampleRate < MinAudioDuration
}
