package resilience

import (
	"context"

	"github.com/MrWong99/phonoxa/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that opens each completion stream on the
// first backend of its chain whose circuit admits the request.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback starts a chain with primary.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// StreamCompletion fails over only while opening the stream. Once chunks
// flow, a broken stream ends with [llm.FinishReasonError] and the caller
// decides what to say.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens uses the first backend able to count.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(context.Background(), f.FallbackGroup, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's model limits.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.Primary().Capabilities()
}
