package call_test

import (
	"testing"
	"time"

	"github.com/MrWong99/phonoxa/internal/call"
)

var segCfg = call.SegmenterConfig{MinSpeechRMS: 250, SilenceRunFrames: 3, MinSpeechFrames: 2}

func speechFrame(rms float64) call.Frame {
	return call.Frame{PCM: make([]byte, 320), RMS: rms, Speech: true, At: time.Now()}
}

func silenceFrame() call.Frame {
	return call.Frame{PCM: make([]byte, 320), RMS: 10, At: time.Now()}
}

func feed(s *call.Segmenter, frames ...call.Frame) []call.SegmentEvent {
	var out []call.SegmentEvent
	for _, f := range frames {
		if ev := s.OnFrame(f); ev.Type != call.EventNone {
			out = append(out, ev)
		}
	}
	return out
}

func repeat(f call.Frame, n int) []call.Frame {
	out := make([]call.Frame, n)
	for i := range out {
		out[i] = f
	}
	return out
}

func TestSegmenter_CompleteUtterance(t *testing.T) {
	t.Parallel()
	s := call.NewSegmenter(segCfg)

	var frames []call.Frame
	frames = append(frames, repeat(speechFrame(1000), 4)...)
	frames = append(frames, silenceFrame())
	frames = append(frames, repeat(speechFrame(1200), 2)...)
	frames = append(frames, repeat(silenceFrame(), 3)...)

	events := feed(s, frames...)
	if len(events) != 2 {
		t.Fatalf("want 2 events, got %d", len(events))
	}
	if events[0].Type != call.EventSpeechStarted {
		t.Errorf("want speech started first, got %v", events[0].Type)
	}
	done := events[1]
	if done.Type != call.EventUtteranceComplete || done.Segment == nil {
		t.Fatalf("want utterance complete with segment, got %+v", done)
	}
	// Inner silence is kept, trailing silence is not.
	if got, want := len(done.Segment.PCM), 7*320; got != want {
		t.Errorf("segment bytes: want %d, got %d", want, got)
	}
	if done.Segment.Frames != 6 {
		t.Errorf("speech frames: want 6, got %d", done.Segment.Frames)
	}
	if s.State() != call.SegmentUtteranceReady {
		t.Errorf("want state utterance_ready, got %v", s.State())
	}
	if ev := s.OnFrame(silenceFrame()); ev.Type != call.EventNone || s.State() != call.SegmentIdle {
		t.Errorf("want idle after next frame, got %v in %v", ev.Type, s.State())
	}
}

func TestSegmenter_Discards(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		seed []call.Frame
		feed []call.Frame
	}{
		{
			name: "too short",
			feed: append([]call.Frame{speechFrame(1000)}, repeat(silenceFrame(), 3)...),
		},
		{
			// Seeded frames count as speech whatever their level, so only the
			// average check can reject them.
			name: "average too quiet",
			seed: repeat(speechFrame(100), 3),
			feed: repeat(silenceFrame(), 3),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := call.NewSegmenter(segCfg)
			if tc.seed != nil {
				s.Seed(tc.seed)
			}
			events := feed(s, tc.feed...)
			if len(events) == 0 {
				t.Fatal("want events, got none")
			}
			if last := events[len(events)-1]; last.Type != call.EventUtteranceDiscarded {
				t.Fatalf("want discarded, got %v", last.Type)
			}
			if s.State() != call.SegmentIdle {
				t.Errorf("want idle, got %v", s.State())
			}
		})
	}
}

func TestSegmenter_LowEnergySpeechIgnored(t *testing.T) {
	t.Parallel()
	s := call.NewSegmenter(segCfg)
	events := feed(s, repeat(speechFrame(100), 10)...)
	if len(events) != 0 {
		t.Errorf("want no events for quiet vad-positive frames, got %d", len(events))
	}
	if s.State() != call.SegmentIdle {
		t.Errorf("want idle, got %v", s.State())
	}
}

func TestSegmenter_SeedAndReset(t *testing.T) {
	t.Parallel()
	s := call.NewSegmenter(segCfg)

	s.Seed([]call.Frame{speechFrame(900), speechFrame(900)})
	if s.State() != call.SegmentAccumulating {
		t.Fatalf("want accumulating after seed, got %v", s.State())
	}
	if s.Len() != 640 {
		t.Errorf("want 640 seeded bytes, got %d", s.Len())
	}
	snap := s.Snapshot()
	snap[0] = 0xFF
	if s.Snapshot()[0] == 0xFF {
		t.Error("snapshot must be a copy")
	}

	events := feed(s, repeat(silenceFrame(), 3)...)
	if len(events) != 1 || events[0].Type != call.EventUtteranceComplete {
		t.Fatalf("want seeded segment to complete, got %+v", events)
	}

	s.Seed([]call.Frame{speechFrame(900)})
	s.Reset()
	if s.State() != call.SegmentIdle || s.Len() != 0 {
		t.Errorf("want empty idle segmenter after reset, got %v with %d bytes", s.State(), s.Len())
	}
}
