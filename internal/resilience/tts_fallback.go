package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/phonoxa/pkg/provider/tts"
)

// ErrFormatMismatch rejects a TTS fallback whose audio format differs from
// the primary's.
var ErrFormatMismatch = errors.New("resilience: tts format mismatch")

// TTSFallback is a [tts.Provider] over a chain of backends that all produce
// the primary's [tts.Format]. The call pipeline sizes its frames from Format
// before synthesis starts, so the format may not depend on which backend
// answers.
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
	format tts.Format
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback starts a chain with primary.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		FallbackGroup: NewFallbackGroup(primary, primaryName, cfg),
		format:        primary.Format(),
	}
}

// AddFallback appends provider unless its format differs from the chain's.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) error {
	if got := provider.Format(); got != f.format {
		return fmt.Errorf("%w: %q produces %s, chain produces %s", ErrFormatMismatch, name, got, f.format)
	}
	f.FallbackGroup.AddFallback(name, provider)
	return nil
}

// SynthesizeStream fails over only while the stream is being set up.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

func (f *TTSFallback) Format() tts.Format { return f.format }
