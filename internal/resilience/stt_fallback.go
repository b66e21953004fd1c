package resilience

import (
	"context"

	"github.com/MrWong99/phonoxa/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that retries a failed utterance on the
// next backend of its chain.
type STTFallback struct {
	*FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback starts a chain with primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

func (f *STTFallback) Transcribe(ctx context.Context, pcm []byte, req stt.Request) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, pcm, req)
	})
}
