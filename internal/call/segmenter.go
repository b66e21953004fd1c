package call

import "time"

// SegmentState is the state of a [Segmenter].
type SegmentState int

const (
	SegmentIdle SegmentState = iota
	SegmentAccumulating
	SegmentUtteranceReady
)

func (s SegmentState) String() string {
	switch s {
	case SegmentIdle:
		return "idle"
	case SegmentAccumulating:
		return "accumulating"
	case SegmentUtteranceReady:
		return "utterance_ready"
	default:
		return "unknown"
	}
}

// EventType is the outcome of feeding one frame to a [Segmenter].
type EventType int

const (
	EventNone EventType = iota
	EventSpeechStarted
	EventUtteranceComplete
	EventUtteranceDiscarded
)

// SpeechSegment is a finished utterance.
type SpeechSegment struct {
	// PCM holds 8 kHz PCM16 from the first to the last speech frame.
	PCM []byte

	// Frames is the number of speech frames in PCM.
	Frames int

	// AvgRMS is the mean energy of the speech frames.
	AvgRMS float64
}

// SegmentEvent is returned by [Segmenter.OnFrame]. Segment is set only for
// EventUtteranceComplete.
type SegmentEvent struct {
	Type    EventType
	Segment *SpeechSegment
}

// Segmenter accumulates speech frames into utterances. It is owned by a
// single goroutine.
type Segmenter struct {
	cfg SegmenterConfig

	state      SegmentState
	buf        []byte
	gap        []byte
	frames     int
	rmsSum     float64
	silenceRun int
	lastSpeech time.Time
}

// NewSegmenter returns an idle Segmenter.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{cfg: cfg}
}

// OnFrame classifies f and advances the state machine. Silence between two
// speech frames is kept in the segment; silence after the last speech frame
// is not.
func (s *Segmenter) OnFrame(f Frame) SegmentEvent {
	if s.state == SegmentUtteranceReady {
		s.state = SegmentIdle
	}
	speech := f.Speech && f.RMS >= s.cfg.MinSpeechRMS

	switch s.state {
	case SegmentIdle:
		if !speech {
			return SegmentEvent{}
		}
		s.clear()
		s.state = SegmentAccumulating
		s.addSpeech(f)
		return SegmentEvent{Type: EventSpeechStarted}

	default:
		if speech {
			s.buf = append(s.buf, s.gap...)
			s.gap = s.gap[:0]
			s.addSpeech(f)
			return SegmentEvent{}
		}
		s.silenceRun++
		s.gap = append(s.gap, f.PCM...)
		if s.silenceRun < s.cfg.SilenceRunFrames {
			return SegmentEvent{}
		}
		return s.finish()
	}
}

// Seed starts a fresh segment from frames captured elsewhere, typically the
// frames that validated a barge-in. The frames count as speech regardless of
// their VAD verdict.
func (s *Segmenter) Seed(frames []Frame) {
	s.clear()
	if len(frames) == 0 {
		s.state = SegmentIdle
		return
	}
	s.state = SegmentAccumulating
	for _, f := range frames {
		s.addSpeech(f)
	}
}

// Snapshot copies the speech accumulated so far.
func (s *Segmenter) Snapshot() []byte {
	out := make([]byte, len(s.buf))
	copy(out, s.buf)
	return out
}

// Len returns the byte length of the accumulated speech.
func (s *Segmenter) Len() int { return len(s.buf) }

// State returns the current state.
func (s *Segmenter) State() SegmentState { return s.state }

// LastSpeech returns the timestamp of the most recent speech frame.
func (s *Segmenter) LastSpeech() time.Time { return s.lastSpeech }

// Reset drops any partial segment and returns to Idle.
func (s *Segmenter) Reset() {
	s.clear()
	s.state = SegmentIdle
}

func (s *Segmenter) addSpeech(f Frame) {
	s.buf = append(s.buf, f.PCM...)
	s.frames++
	s.rmsSum += f.RMS
	s.silenceRun = 0
	if f.At.After(s.lastSpeech) {
		s.lastSpeech = f.At
	}
}

func (s *Segmenter) finish() SegmentEvent {
	avg := 0.0
	if s.frames > 0 {
		avg = s.rmsSum / float64(s.frames)
	}
	if s.frames < s.cfg.MinSpeechFrames || avg < s.cfg.MinSpeechRMS {
		s.clear()
		s.state = SegmentIdle
		return SegmentEvent{Type: EventUtteranceDiscarded}
	}
	seg := &SpeechSegment{PCM: s.buf, Frames: s.frames, AvgRMS: avg}
	s.buf = nil
	s.clear()
	s.state = SegmentUtteranceReady
	return SegmentEvent{Type: EventUtteranceComplete, Segment: seg}
}

func (s *Segmenter) clear() {
	s.buf = nil
	s.gap = nil
	s.frames = 0
	s.rmsSum = 0
	s.silenceRun = 0
}
