package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/phonoxa/internal/agent"
	"github.com/MrWong99/phonoxa/internal/callstore"
	"github.com/MrWong99/phonoxa/internal/mediastream"
	"github.com/MrWong99/phonoxa/internal/observe"
	"github.com/MrWong99/phonoxa/pkg/audio"
	"github.com/MrWong99/phonoxa/pkg/provider/vad"
)

// Transport is the media stream a [Session] runs on.
// [*mediastream.Conn] implements it.
type Transport interface {
	Sink
	ReadEvent(ctx context.Context) (mediastream.Event, error)
	Close() error
}

var _ Transport = (*mediastream.Conn)(nil)

// Deps are the collaborators of a [Session].
type Deps struct {
	Providers Providers
	Names     ProviderNames
	Store     callstore.Store
	Resolver  *agent.Resolver
	Tuning    Tuning
	Metrics   *observe.Metrics

	// OnStart is called from the session goroutine once the call is
	// identified and its agent resolved.
	OnStart func(s *Session)
}

// Info is a point-in-time view of a call.
type Info struct {
	CallID    string    `json:"call_id"`
	StreamSID string    `json:"stream_sid"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Outbound  bool      `json:"outbound"`
	AgentID   string    `json:"agent_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// noticeKind tags messages from auxiliary goroutines to the session loop.
type noticeKind int

const (
	noticeAudio noticeKind = iota
	noticeDone
)

type notice struct {
	kind   noticeKind
	id     uint64
	result Result
}

type inbound struct {
	ev  mediastream.Event
	err error
}

// Session owns one call. All call state is touched only by the goroutine in
// [Session.Run]; pipelines and speculative transcriptions report back through
// the notice channel. Hangup and Info are safe to call from other
// goroutines.
type Session struct {
	deps Deps
	now  func() time.Time

	hangupOnce sync.Once
	hangupCh   chan struct{}
	notices    chan notice

	mu   sync.Mutex
	info Info

	// Loop-owned state.
	log         *slog.Logger
	state       State
	start       *mediastream.StartInfo
	agent       agent.Config
	vadSess     vad.SessionHandle
	segmenter   *Segmenter
	detector    *InterruptDetector
	speculator  *Speculator
	sequencer   *Sequencer
	player      *Player
	pipeline    *Pipeline
	watchdog    *Watchdog
	history     *History
	settleUntil time.Time
	hangupAt    time.Time
	closing     bool
	promptID    uint64
}

// NewSession returns a Session ready to [Session.Run].
func NewSession(deps Deps) *Session {
	if deps.Store == nil {
		deps.Store = callstore.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Session{
		deps:     deps,
		now:      time.Now,
		hangupCh: make(chan struct{}),
		notices:  make(chan notice, 16),
		log:      slog.Default(),
	}
}

// Hangup ends the call at the next loop iteration without a farewell.
func (s *Session) Hangup() {
	s.hangupOnce.Do(func() { close(s.hangupCh) })
}

// Info returns the current call details.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// ID returns the call id, or "" before the start event.
func (s *Session) ID() string {
	return s.Info().CallID
}

// Run drives the call until the caller hangs up, the agent ends the call, a
// watchdog fires, Hangup is called or ctx is cancelled. It returns an error
// wrapping [agent.ErrNoAgent] when the call was rejected, and protocol or
// transport errors that occur before the stream is identified.
func (s *Session) Run(ctx context.Context, t Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer t.Close()

	in := make(chan inbound, 64)
	go s.readLoop(ctx, t, in)

	started, err := s.awaitStart(ctx, in)
	if err != nil || !started {
		return err
	}
	defer s.shutdown(cancel)

	cfg, source, err := s.deps.Resolver.Resolve(ctx, agent.Request{
		Inline:      s.start.Param(mediastream.ParamAgentConfig),
		PhoneNumber: s.agentNumber(),
	})
	if err != nil {
		return s.reject(ctx, t, err)
	}
	s.agent = cfg.WithDefaults()
	s.log = s.log.With("agent_id", s.agent.ID)
	s.log.Info("call started", "agent_source", source, "outbound", s.start.Outbound())

	s.setup(ctx, t)
	s.mu.Lock()
	s.info.AgentID = s.agent.ID
	s.mu.Unlock()
	if s.deps.OnStart != nil {
		s.deps.OnStart(s)
	}
	s.deps.Metrics.ActiveCalls.Add(ctx, 1)
	defer s.deps.Metrics.ActiveCalls.Add(context.WithoutCancel(ctx), -1)

	s.setState(StateSettling)
	s.settleUntil = s.now().Add(s.deps.Tuning.Lifecycle.Settling)

	ticker := time.NewTicker(s.deps.Tuning.Lifecycle.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.hangupCh:
			s.log.Info("call hung up by operator")
			return nil
		case msg := <-in:
			if msg.err != nil {
				if errors.Is(msg.err, mediastream.ErrProtocol) {
					s.log.Debug("ignoring malformed event", "err", msg.err)
					continue
				}
				s.log.Info("media stream closed", "err", msg.err)
				return nil
			}
			if done := s.handleEvent(ctx, msg.ev); done {
				return nil
			}
		case n := <-s.notices:
			if done := s.handleNotice(n); done {
				return nil
			}
		case <-ticker.C:
			if done := s.tick(ctx); done {
				return nil
			}
		}
	}
}

// readLoop forwards inbound events until the transport fails.
func (s *Session) readLoop(ctx context.Context, t Transport, out chan<- inbound) {
	for {
		ev, err := t.ReadEvent(ctx)
		select {
		case out <- inbound{ev: ev, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil && !errors.Is(err, mediastream.ErrProtocol) {
			return
		}
	}
}

// awaitStart consumes events until the stream is identified. Anything
// malformed before that tears the session down. It reports false when the
// stream ended before it started.
func (s *Session) awaitStart(ctx context.Context, in <-chan inbound) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-s.hangupCh:
			return false, nil
		case msg := <-in:
			if msg.err != nil {
				return false, fmt.Errorf("call: before start: %w", msg.err)
			}
			switch msg.ev.Type {
			case mediastream.EventStart:
				if msg.ev.Start == nil || msg.ev.StreamSID == "" {
					return false, fmt.Errorf("call: %w: start without stream identifiers", mediastream.ErrProtocol)
				}
				s.start = msg.ev.Start
				callID := s.start.CallSID
				if callID == "" {
					callID = msg.ev.StreamSID
				}
				s.mu.Lock()
				s.info = Info{
					CallID:    callID,
					StreamSID: msg.ev.StreamSID,
					From:      s.start.Param(mediastream.ParamFrom),
					To:        s.start.Param(mediastream.ParamTo),
					Outbound:  s.start.Outbound(),
					State:     StateSettling.String(),
					StartedAt: s.now(),
				}
				s.mu.Unlock()
				s.log = s.log.With("call_id", callID)
				return true, nil
			case mediastream.EventStop:
				return false, nil
			}
		}
	}
}

// agentNumber is the number the agent answers on: the callee for inbound
// calls and the caller id for calls the agent placed.
func (s *Session) agentNumber() string {
	if s.start.Outbound() {
		return s.start.Param(mediastream.ParamFrom)
	}
	return s.start.Param(mediastream.ParamTo)
}

// reject plays the rejection prompt and ends the call.
func (s *Session) reject(ctx context.Context, t Transport, cause error) error {
	s.log.Warn("rejecting call", "number", s.agentNumber(), "err", cause)
	s.agent = agent.Config{Name: "rejection"}.WithDefaults()
	s.setup(ctx, t)
	s.setState(StateTerminated)
	id := s.sequencer.Next()
	s.pipeline.Say(ctx, id, s.agent.Prompts.Rejection, false)
	return fmt.Errorf("call %s: %w", s.ID(), cause)
}

// setup builds the per-call components once the agent is known.
func (s *Session) setup(ctx context.Context, t Transport) {
	tuning := s.deps.Tuning
	s.sequencer = &Sequencer{}
	s.player = NewPlayer(t, tuning.Pipeline.PlaybackSlack)
	s.history = NewHistory(tuning.Pipeline.HistoryTokens, s.deps.Providers.LLM)
	s.segmenter = NewSegmenter(tuning.Segmenter)
	s.detector = NewInterruptDetector(tuning.Interrupt)
	s.watchdog = NewWatchdog(tuning.Lifecycle, s.now())
	s.pipeline = &Pipeline{
		CallID:    s.ID(),
		Agent:     s.agent,
		Config:    tuning.Pipeline,
		Gain:      tuning.Gain,
		Gate:      tuning.Gate,
		Providers: s.deps.Providers,
		Names:     s.deps.Names,
		Store:     s.deps.Store,
		History:   s.history,
		Player:    s.player,
		Sequencer: s.sequencer,
		Metrics:   s.deps.Metrics,
		Log:       s.log,
		OnAudio: func(id uint64) {
			s.post(ctx, notice{kind: noticeAudio, id: id})
		},
	}
	s.speculator = NewSpeculator(tuning.Speculative, s.pipeline.Transcribe)

	if s.deps.Providers.VAD != nil {
		sess, err := s.deps.Providers.VAD.NewSession(vad.Config{
			SampleRate:       audio.TelephonySampleRate,
			FrameSizeMs:      int(audio.FrameDuration / time.Millisecond),
			SpeechThreshold:  tuning.VAD.SpeechThreshold,
			SilenceThreshold: tuning.VAD.SilenceThreshold,
		})
		if err != nil {
			s.log.Warn("vad session unavailable, using energy only", "err", err)
		} else {
			s.vadSess = sess
		}
	}
}

// shutdown stops all auxiliary work.
func (s *Session) shutdown(cancel context.CancelFunc) {
	s.setState(StateTerminated)
	cancel()
	if s.sequencer != nil {
		s.sequencer.Cancel()
		s.sequencer.Wait()
	}
	if s.speculator != nil {
		s.speculator.Reset()
	}
	if s.vadSess != nil {
		_ = s.vadSess.Close()
	}
	s.log.Info("call ended")
}

// post delivers a notice to the loop unless the call is over.
func (s *Session) post(ctx context.Context, n notice) {
	select {
	case s.notices <- n:
	case <-ctx.Done():
	}
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.log.Debug("call state", "from", s.state, "to", st)
	s.state = st
	s.mu.Lock()
	s.info.State = st.String()
	s.mu.Unlock()
}

// handleEvent processes one inbound event. It reports whether the call is
// over.
func (s *Session) handleEvent(ctx context.Context, ev mediastream.Event) bool {
	switch ev.Type {
	case mediastream.EventMedia:
		s.onMedia(ctx, ev.Media)
	case mediastream.EventMark:
		s.player.Ack(ev.Mark)
		if ev.Mark == mediastream.MarkEndOfSpeech && (s.state == StateSpeaking || s.state == StateGreeting) && !s.sequencer.Active() {
			s.finishSpeaking(!s.sequencer.IsCurrent(s.promptID))
		}
	case mediastream.EventStop:
		s.log.Info("caller hung up")
		return true
	case mediastream.EventDTMF:
		s.log.Debug("ignoring dtmf", "digit", ev.Digit)
	}
	return false
}

// onMedia classifies one inbound frame and routes it by state.
func (s *Session) onMedia(ctx context.Context, ulaw []byte) {
	if len(ulaw) != audio.MulawFrameBytes {
		s.log.Debug("dropping mis-sized inbound frame", "bytes", len(ulaw), "want", audio.MulawFrameBytes)
		return
	}
	pcm, err := audio.DecodeMulaw(ulaw)
	if err != nil {
		s.log.Debug("dropping inbound frame", "err", err)
		return
	}
	now := s.now()
	f := Frame{PCM: pcm, RMS: audio.RMS(pcm), At: now}
	if s.vadSess != nil {
		if ev, err := s.vadSess.ProcessFrame(pcm); err == nil {
			f.Speech = ev.IsSpeech()
		} else {
			f.Speech = f.RMS >= s.deps.Tuning.Segmenter.MinSpeechRMS
		}
	} else {
		f.Speech = f.RMS >= s.deps.Tuning.Segmenter.MinSpeechRMS
	}

	switch s.state {
	case StateSettling:
		if !now.Before(s.settleUntil) {
			s.greet(ctx)
		}
	case StateSpeaking:
		if s.closing {
			return
		}
		if frames, ok := s.detector.OnFrame(f); ok {
			s.interrupt(ctx, frames, now)
		}
	case StateListening:
		if s.closing {
			return
		}
		s.onListeningFrame(ctx, f)
	}
}

func (s *Session) onListeningFrame(ctx context.Context, f Frame) {
	ev := s.segmenter.OnFrame(f)
	switch ev.Type {
	case EventSpeechStarted:
		s.watchdog.Touch(f.At)
		s.hangupAt = time.Time{}
	case EventUtteranceComplete:
		s.watchdog.Touch(f.At)
		s.startTurn(ctx, ev.Segment, f.At)
		return
	case EventUtteranceDiscarded:
		s.deps.Metrics.RecordUtterance(ctx, "discarded")
		s.speculator.Reset()
		return
	}
	if s.segmenter.State() == SegmentAccumulating && s.speculator.Due(f.At, s.segmenter.Len()) {
		s.speculator.MaybeStart(ctx, f.At, s.segmenter.Snapshot())
	}
}

// startTurn launches the pipeline for a finished utterance, superseding any
// pipeline still running.
func (s *Session) startTurn(ctx context.Context, seg *SpeechSegment, now time.Time) {
	text, hit := s.speculator.Take(len(seg.PCM), s.deps.Tuning.Pipeline.MinTranscriptChars)
	s.deps.Metrics.RecordSpeculative(ctx, hit)
	s.speculator.Reset()

	id := s.sequencer.Next()
	turn := Turn{ID: id, Segment: seg, Speculative: text, EndedAt: now}
	s.sequencer.Start(ctx, id, func(ctx context.Context) {
		res := s.pipeline.Run(ctx, turn)
		s.post(ctx, notice{kind: noticeDone, id: id, result: res})
	})
}

// greet ends settling and speaks the greeting.
func (s *Session) greet(ctx context.Context) {
	s.setState(StateGreeting)
	text := s.agent.GreetingFor(s.start.Outbound())
	if text == "" {
		s.setState(StateListening)
		s.watchdog.Touch(s.now())
		return
	}
	s.say(ctx, text, true)
}

// say runs a fixed prompt through the sequencer like any other response.
func (s *Session) say(ctx context.Context, text string, record bool) uint64 {
	id := s.sequencer.Next()
	s.sequencer.Start(ctx, id, func(ctx context.Context) {
		res := s.pipeline.Say(ctx, id, text, record)
		s.post(ctx, notice{kind: noticeDone, id: id, result: res})
	})
	return id
}

// handleNotice applies a report from a pipeline goroutine.
func (s *Session) handleNotice(n notice) bool {
	if !s.sequencer.IsCurrent(n.id) {
		return false
	}
	switch n.kind {
	case noticeAudio:
		// The greeting plays out in StateGreeting and cannot be interrupted.
		if s.state == StateListening {
			s.setState(StateSpeaking)
			if !s.closing {
				s.detector.Arm(s.now())
			}
		}
	case noticeDone:
		if s.closing {
			return true
		}
		if n.result.Farewell {
			s.hangupAt = s.now().Add(s.deps.Tuning.Pipeline.FarewellGrace)
		}
		s.finishSpeaking(n.id != s.promptID)
	}
	return false
}

// finishSpeaking returns to Listening after an agent response. The silence
// clock restarts unless the response was the still-there prompt.
func (s *Session) finishSpeaking(touch bool) {
	s.detector.Disarm()
	if s.state == StateTerminated {
		return
	}
	s.setState(StateListening)
	if touch {
		s.watchdog.Touch(s.now())
	}
}

// interrupt stops agent playback and treats the captured frames as the
// start of a new utterance.
func (s *Session) interrupt(ctx context.Context, frames []Frame, now time.Time) {
	s.log.Info("caller interrupted", "frames", len(frames), "threshold", s.detector.Threshold())
	s.deps.Metrics.RecordInterrupt(ctx, s.agent.ID)
	s.sequencer.Cancel()
	if err := s.player.Stop(ctx, s.deps.Tuning.Interrupt.ClearRepeats); err != nil {
		s.log.Warn("failed to clear playback", "err", err)
	}
	s.speculator.Reset()
	s.segmenter.Seed(frames)
	s.hangupAt = time.Time{}
	s.setState(StateListening)
	s.watchdog.Touch(now)
}

// tick runs timers. It reports whether the call is over.
func (s *Session) tick(ctx context.Context) bool {
	now := s.now()
	if s.state == StateSettling && !now.Before(s.settleUntil) {
		s.greet(ctx)
		return false
	}
	if !s.hangupAt.IsZero() && !now.Before(s.hangupAt) && !s.sequencer.Active() {
		s.log.Info("ending call after farewell")
		return true
	}
	if s.closing || s.state == StateSettling {
		return false
	}

	busy := s.sequencer.Active() ||
		s.segmenter.State() == SegmentAccumulating ||
		s.player.Pending() > 0 ||
		s.state == StateSpeaking || s.state == StateGreeting
	action := s.watchdog.Check(now, WatchState{Busy: busy, Listening: s.state == StateListening})
	if action == ActionNone {
		return false
	}
	s.deps.Metrics.RecordWatchdogAction(ctx, action.String())
	s.log.Info("watchdog fired", "action", action, "silence", s.watchdog.Silence(now))

	switch action {
	case ActionPrompt:
		s.promptID = s.say(ctx, s.agent.Prompts.StillThere, false)
	case ActionHangupInactive, ActionHangupMaxDuration:
		s.closing = true
		s.detector.Disarm()
		s.say(ctx, s.agent.Prompts.Farewell, true)
	}
	return false
}
