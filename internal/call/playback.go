package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/phonoxa/pkg/audio"
	"github.com/MrWong99/phonoxa/pkg/provider/tts"
)

// Sink is the outbound half of a media stream.
type Sink interface {
	SendMedia(ctx context.Context, ulaw []byte) error
	SendMark(ctx context.Context, name string) error
	SendClear(ctx context.Context) error
}

// Player sends agent audio to the caller and tracks playback marks. The far
// end echoes a mark once every byte queued before it has been played, which
// is the only reliable signal that the caller actually heard a fragment.
//
// Send and Mark are called from the pipeline goroutine; Ack and Stop from
// the session loop. All methods are safe for concurrent use.
type Player struct {
	sink  Sink
	slack time.Duration

	mu      sync.Mutex
	seq     int
	waiters map[string]chan struct{}
}

// NewPlayer returns a Player writing to sink. slack is added to the audio
// duration when waiting for a mark echo.
func NewPlayer(sink Sink, slack time.Duration) *Player {
	return &Player{sink: sink, slack: slack, waiters: make(map[string]chan struct{})}
}

// Send transmits one chunk of 8 kHz μ-law audio.
func (p *Player) Send(ctx context.Context, ulaw []byte) error {
	if len(ulaw) == 0 {
		return nil
	}
	return p.sink.SendMedia(ctx, ulaw)
}

// Mark queues a playback mark and returns a channel closed when the far end
// echoes it. An empty name generates a unique fragment mark.
func (p *Player) Mark(ctx context.Context, name string) (<-chan struct{}, error) {
	p.mu.Lock()
	if name == "" {
		p.seq++
		name = fmt.Sprintf("fragment-%d", p.seq)
	}
	if old, ok := p.waiters[name]; ok {
		close(old)
	}
	ch := make(chan struct{})
	p.waiters[name] = ch
	p.mu.Unlock()

	if err := p.sink.SendMark(ctx, name); err != nil {
		p.mu.Lock()
		if p.waiters[name] == ch {
			delete(p.waiters, name)
		}
		p.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// Await blocks until done is closed, audioDur plus slack elapses, or ctx is
// cancelled. A timeout counts as played; only cancellation is an error. A
// mark that was never echoed stops counting as pending once Await returns.
func (p *Player) Await(ctx context.Context, done <-chan struct{}, audioDur time.Duration) error {
	timer := time.NewTimer(audioDur + p.slack)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		p.release(done)
		return nil
	case <-ctx.Done():
		p.release(done)
		return ctx.Err()
	}
}

// release forgets the waiter behind done. A late echo is then ignored by Ack.
func (p *Player) release(done <-chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, ch := range p.waiters {
		if ch == done {
			delete(p.waiters, name)
			return
		}
	}
}

// Ack releases the waiter for an echoed mark. It reports whether the mark
// was pending.
func (p *Player) Ack(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.waiters[name]
	if !ok {
		return false
	}
	close(ch)
	delete(p.waiters, name)
	return true
}

// Pending returns the number of marks not yet echoed.
func (p *Player) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}

// Stop discards audio queued at the far end and releases every waiter. The
// clear is sent repeats times because media already in flight can land after
// a single clear.
func (p *Player) Stop(ctx context.Context, repeats int) error {
	p.mu.Lock()
	for name, ch := range p.waiters {
		close(ch)
		delete(p.waiters, name)
	}
	p.mu.Unlock()

	var errs []error
	for range max(repeats, 1) {
		if err := p.sink.SendClear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MulawDuration returns the playback length of 8 kHz μ-law bytes.
func MulawDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / audio.TelephonySampleRate
}

// Encoder converts TTS output to 8 kHz μ-law for the call leg. One Encoder
// serves one synthesis stream.
type Encoder struct {
	format tts.Format
	rs     *audio.StreamResampler
}

// NewEncoder returns an Encoder for audio in format f.
func NewEncoder(f tts.Format) (*Encoder, error) {
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("call: encoder: %w: %d", audio.ErrInvalidRate, f.SampleRate)
	}
	switch f.Encoding {
	case tts.EncodingMulaw, tts.EncodingPCM16:
	default:
		return nil, fmt.Errorf("call: encoder: unsupported encoding %q", f.Encoding)
	}
	e := &Encoder{format: f}
	// PCM always goes through the resampler, which also realigns odd chunks.
	if f.SampleRate != audio.TelephonySampleRate || f.Encoding == tts.EncodingPCM16 {
		rs, err := audio.NewStreamResampler(f.SampleRate, audio.TelephonySampleRate)
		if err != nil {
			return nil, fmt.Errorf("call: encoder: %w", err)
		}
		e.rs = rs
	}
	return e, nil
}

// Encode converts one chunk. It may return no bytes while the resampler
// fills its filter.
func (e *Encoder) Encode(chunk []byte) ([]byte, error) {
	if len(chunk) == 0 {
		return nil, nil
	}
	if e.format.Encoding == tts.EncodingMulaw && e.rs == nil {
		return chunk, nil
	}

	pcm := chunk
	if e.format.Encoding == tts.EncodingMulaw {
		var err error
		if pcm, err = audio.DecodeMulaw(chunk); err != nil {
			return nil, err
		}
	}
	if e.rs != nil {
		var err error
		if pcm, err = e.rs.Process(pcm); err != nil {
			return nil, err
		}
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	return audio.EncodeMulaw(pcm)
}

// Flush returns the audio still buffered in the resampler as μ-law. Call it
// after the last chunk of the stream.
func (e *Encoder) Flush() ([]byte, error) {
	if e.rs == nil {
		return nil, nil
	}
	pcm, err := e.rs.Flush()
	if err != nil || len(pcm) == 0 {
		return nil, err
	}
	return audio.EncodeMulaw(pcm)
}
