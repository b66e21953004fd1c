package call_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/phonoxa/internal/call"
)

var specCfg = call.SpeculativeConfig{Enabled: true, Interval: time.Second, MinBytes: 8}

// waitTake polls until the speculator yields a result or the deadline passes.
func waitTake(t *testing.T, s *call.Speculator, n, minChars int) (string, bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if text, ok := s.Take(n, minChars); ok {
			return text, true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return "", false
}

func TestSpeculator_StartConditions(t *testing.T) {
	t.Parallel()
	s := call.NewSpeculator(specCfg, func(context.Context, []byte) (string, error) { return "hi", nil })
	ctx := context.Background()
	t0 := time.Now()

	if s.MaybeStart(ctx, t0, make([]byte, 4)) {
		t.Error("want no run below MinBytes")
	}
	if !s.Due(t0, 10) {
		t.Error("want Due for a large enough buffer")
	}
	if !s.MaybeStart(ctx, t0, make([]byte, 10)) {
		t.Fatal("want first run to start")
	}
	if s.MaybeStart(ctx, t0.Add(100*time.Millisecond), make([]byte, 20)) {
		t.Error("want no run before the interval elapsed")
	}
	if s.MaybeStart(ctx, t0.Add(2*time.Second), make([]byte, 10)) {
		t.Error("want no run when the buffer has not grown")
	}
	if !s.MaybeStart(ctx, t0.Add(2*time.Second), make([]byte, 20)) {
		t.Error("want a run once the interval elapsed and audio grew")
	}

	disabled := call.NewSpeculator(call.SpeculativeConfig{}, func(context.Context, []byte) (string, error) { return "", nil })
	if disabled.MaybeStart(ctx, t0, make([]byte, 100)) {
		t.Error("disabled speculator must not start")
	}
}

func TestSpeculator_TakeRequiresFullCoverage(t *testing.T) {
	t.Parallel()
	s := call.NewSpeculator(specCfg, func(context.Context, []byte) (string, error) { return "book a table", nil })
	s.MaybeStart(context.Background(), time.Now(), make([]byte, 10))

	text, ok := waitTake(t, s, 10, 2)
	if !ok || text != "book a table" {
		t.Fatalf("want speculative transcript, got %q (%v)", text, ok)
	}
	if _, ok := s.Take(10, 2); ok {
		t.Error("result must be consumed once")
	}

	s.Reset()
	s.MaybeStart(context.Background(), time.Now(), make([]byte, 10))
	time.Sleep(50 * time.Millisecond)
	if _, ok := s.Take(12, 2); ok {
		t.Error("a result covering less than the segment must not be used")
	}
}

func TestSpeculator_TrivialTranscriptRejected(t *testing.T) {
	t.Parallel()
	s := call.NewSpeculator(specCfg, func(context.Context, []byte) (string, error) { return " a ", nil })
	s.MaybeStart(context.Background(), time.Now(), make([]byte, 10))
	time.Sleep(50 * time.Millisecond)
	if _, ok := s.Take(10, 2); ok {
		t.Error("want transcript below minChars rejected")
	}
}

func TestSpeculator_NewRunCancelsOld(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var cancelled int
	// Only the run over the first, shorter snapshot blocks.
	s := call.NewSpeculator(specCfg, func(ctx context.Context, pcm []byte) (string, error) {
		if len(pcm) == 10 {
			<-ctx.Done()
			mu.Lock()
			cancelled++
			mu.Unlock()
			return "stale", ctx.Err()
		}
		return "fresh", nil
	})

	t0 := time.Now()
	s.MaybeStart(context.Background(), t0, make([]byte, 10))
	s.MaybeStart(context.Background(), t0.Add(2*time.Second), make([]byte, 20))

	text, ok := waitTake(t, s, 20, 2)
	if !ok || text != "fresh" {
		t.Fatalf("want newest result, got %q (%v)", text, ok)
	}
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		c := cancelled
		mu.Unlock()
		if c == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first run was not cancelled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSpeculator_ResetDropsResult(t *testing.T) {
	t.Parallel()
	s := call.NewSpeculator(specCfg, func(context.Context, []byte) (string, error) { return "hello", nil })
	s.MaybeStart(context.Background(), time.Now(), make([]byte, 10))
	time.Sleep(50 * time.Millisecond)
	s.Reset()
	if _, ok := s.Take(10, 2); ok {
		t.Error("want no result after Reset")
	}
}
