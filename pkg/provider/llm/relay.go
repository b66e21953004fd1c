package llm

import (
	"context"
	"iter"
)

// Relay forwards the chunks of a backend stream on a new channel, which it
// closes when deltas is exhausted or ctx ends. Chunks carrying neither text
// nor a finish reason are dropped. If streamErr reports an error after the
// last delta, a final [FinishReasonError] chunk carries its message.
func Relay(ctx context.Context, deltas iter.Seq[Chunk], streamErr func() error) <-chan Chunk {
	out := make(chan Chunk, 32)
	go func() {
		defer close(out)
		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for c := range deltas {
			if c.Text == "" && c.FinishReason == "" {
				continue
			}
			if !send(c) {
				return
			}
		}
		if err := streamErr(); err != nil {
			send(Chunk{FinishReason: FinishReasonError, Text: err.Error()})
		}
	}()
	return out
}
