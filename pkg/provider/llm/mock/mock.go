// Package mock provides a scripted [llm.Provider] for tests.
//
//	p := &mock.Provider{StreamChunks: []llm.Chunk{{Text: "Table for two? "}, {FinishReason: "stop"}}}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/phonoxa/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// StreamCall is one recorded StreamCompletion request.
type StreamCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider replays StreamChunks for every completion. Configure it before
// first use; the recorded calls may be read once the code under test is done
// with the provider.
type Provider struct {
	// StreamChunks is emitted in full on every stream.
	StreamChunks []llm.Chunk
	// StreamErr fails StreamCompletion before a stream opens.
	StreamErr error

	// TokenCount overrides the [llm.EstimateTokens] answer of CountTokens.
	TokenCount     int
	CountTokensErr error

	ModelCapabilities llm.ModelCapabilities

	mu               sync.Mutex
	StreamCalls      []StreamCall
	CountTokensCalls [][]llm.Message
}

func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	p.mu.Unlock()
	if p.StreamErr != nil {
		return nil, p.StreamErr
	}

	ch := make(chan llm.Chunk, len(p.StreamChunks))
	for _, c := range p.StreamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.mu.Lock()
	p.CountTokensCalls = append(p.CountTokensCalls, slices.Clone(messages))
	p.mu.Unlock()
	switch {
	case p.CountTokensErr != nil:
		return 0, p.CountTokensErr
	case p.TokenCount > 0:
		return p.TokenCount, nil
	}
	return llm.EstimateTokens(messages), nil
}

func (p *Provider) Capabilities() llm.ModelCapabilities { return p.ModelCapabilities }
