// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    OutputFormat:     tts.Format{Encoding: tts.EncodingMulaw, SampleRate: 8000},
//	}
//	ch, _ := p.SynthesizeStream(ctx, "Hello.", voice)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/phonoxa/pkg/provider/tts"
)

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Text is the text passed to SynthesizeStream.
	Text string
	// Voice is the VoiceProfile passed to SynthesizeStream.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is the sequence of audio byte slices emitted on the
	// channel returned by SynthesizeStream.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeStream.
	SynthesizeErr error

	// SynthesizeFunc, if set, replaces SynthesizeChunks/SynthesizeErr. It
	// receives the zero-based call index.
	SynthesizeFunc func(call int, text string) ([][]byte, error)

	// ChunkDelay is slept before each emitted chunk.
	ChunkDelay time.Duration

	// OutputFormat is returned by Format. The zero value reports 8 kHz μ-law.
	OutputFormat tts.Format

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeStreamCall
}

// SynthesizeStream records the call and, on success, returns a channel that
// emits the configured chunks then closes.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	call := len(p.SynthesizeStreamCalls)
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Text: text, Voice: voice})
	fn := p.SynthesizeFunc
	chunks, err := p.SynthesizeChunks, p.SynthesizeErr
	delay := p.ChunkDelay
	p.mu.Unlock()

	if fn != nil {
		chunks, err = fn(call, text)
	}
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, len(chunks))
	go func() {
		defer close(ch)
		for _, audio := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case ch <- audio:
			}
		}
	}()
	return ch, nil
}

// Format returns OutputFormat, defaulting to 8 kHz μ-law.
func (p *Provider) Format() tts.Format {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.OutputFormat == (tts.Format{}) {
		return tts.Format{Encoding: tts.EncodingMulaw, SampleRate: 8000}
	}
	return p.OutputFormat
}

// CallCount returns the number of SynthesizeStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.SynthesizeStreamCalls)
}

// Texts returns the text of every SynthesizeStream call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.SynthesizeStreamCalls))
	for i, c := range p.SynthesizeStreamCalls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeStreamCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
