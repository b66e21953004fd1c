package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/phonoxa/internal/agent"
	"github.com/MrWong99/phonoxa/internal/callstore"
	"github.com/MrWong99/phonoxa/internal/mediastream"
	"github.com/MrWong99/phonoxa/internal/observe"
	"github.com/MrWong99/phonoxa/pkg/audio"
	"github.com/MrWong99/phonoxa/pkg/provider/llm"
	"github.com/MrWong99/phonoxa/pkg/provider/stt"
	"github.com/MrWong99/phonoxa/pkg/provider/tts"
	"github.com/MrWong99/phonoxa/pkg/provider/vad"
)

// persistTimeout bounds a single transcript write.
const persistTimeout = 5 * time.Second

// fragmentBuffer is how many LLM fragments may queue ahead of playback.
const fragmentBuffer = 64

// errSuperseded is returned when a newer pipeline took over mid-flight.
var errSuperseded = errors.New("call: pipeline superseded")

// errNoAudio is returned when synthesis produced nothing playable.
var errNoAudio = errors.New("call: synthesis produced no audio")

// Providers bundles the capabilities a call uses. VAD may be nil, in which
// case frames are classified by energy alone.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
	VAD vad.Engine
}

// ProviderNames labels provider metrics.
type ProviderNames struct {
	STT string
	LLM string
	TTS string
}

// Turn is one finished caller utterance handed to [Pipeline.Run].
type Turn struct {
	// ID is the sequencer id of the run.
	ID uint64

	// Segment is the caller's speech at 8 kHz.
	Segment *SpeechSegment

	// Speculative is a transcript already produced in the background. Empty
	// means transcribe Segment.
	Speculative string

	// EndedAt is when the utterance was declared complete.
	EndedAt time.Time
}

// Result summarises a pipeline run for the session loop.
type Result struct {
	// Spoke is true if any agent audio went out.
	Spoke bool

	// Completed is true if the run reached its end while still current.
	Completed bool

	// Farewell is true if the agent said goodbye.
	Farewell bool
}

// Pipeline turns caller utterances into spoken replies: transcript, LLM
// stream split into fragments, synthesis, transcoding and playback. Every
// stage checks [Sequencer.IsCurrent] before a side effect, so a barge-in or
// newer utterance stops it at the next boundary.
type Pipeline struct {
	CallID    string
	Agent     agent.Config
	Config    PipelineConfig
	Gain      audio.GainConfig
	Gate      audio.GateConfig
	Providers Providers
	Names     ProviderNames
	Store     callstore.Store
	History   *History
	Player    *Player
	Sequencer *Sequencer
	Metrics   *observe.Metrics
	Log       *slog.Logger

	// OnAudio is called once per run right before the first chunk of agent
	// audio is sent.
	OnAudio func(id uint64)
}

// Transcribe prepares 8 kHz caller PCM for STT (noise gate, gain, resample)
// and transcribes it under the provider timeout. It is also the
// [TranscribeFunc] of the session's [Speculator].
func (p *Pipeline) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	prepared := audio.NormalizeGain(audio.NoiseGate(pcm, p.Gate), p.Gain)
	resampled, err := audio.Resample(prepared, audio.TelephonySampleRate, p.Config.STTSampleRate)
	if err != nil {
		return "", fmt.Errorf("call: prepare speech: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.Config.ProviderTimeout)
	defer cancel()

	keywords := make([]stt.KeywordBoost, 0, len(p.Agent.Keywords))
	for _, k := range p.Agent.Keywords {
		keywords = append(keywords, stt.KeywordBoost{Keyword: k, Boost: 2})
	}
	tr, err := p.Providers.STT.Transcribe(ctx, resampled, stt.Request{
		SampleRate: p.Config.STTSampleRate,
		Language:   p.Agent.Language,
		Keywords:   keywords,
	})
	if err != nil {
		p.metrics().RecordProviderRequest(ctx, p.Names.STT, "stt", "error")
		p.metrics().RecordProviderError(ctx, p.Names.STT, "stt")
		return "", fmt.Errorf("call: transcribe: %w", err)
	}
	p.metrics().RecordProviderRequest(ctx, p.Names.STT, "stt", "ok")
	return strings.TrimSpace(tr.Text), nil
}

// Run handles one caller utterance end to end.
func (p *Pipeline) Run(ctx context.Context, turn Turn) Result {
	ctx, span := observe.StartCallSpan(ctx, "call.pipeline", p.CallID, attribute.Int64("pipeline.id", int64(turn.ID)))
	defer span.End()
	log := observe.TraceLogger(ctx, p.Log)

	var res Result
	text := turn.Speculative
	if text == "" {
		start := time.Now()
		var err error
		text, err = p.Transcribe(ctx, turn.Segment.PCM)
		p.metrics().STTDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			if ctx.Err() != nil || !p.Sequencer.IsCurrent(turn.ID) {
				return res
			}
			log.Warn("transcription failed", "err", err)
			res.Spoke, _ = p.say(ctx, turn.ID, p.Agent.Prompts.DidntCatch)
			res.Completed = p.Sequencer.IsCurrent(turn.ID)
			return res
		}
	}
	if !p.Sequencer.IsCurrent(turn.ID) {
		return res
	}

	if len([]rune(text)) < p.Config.MinTranscriptChars || IsFiller(text, p.Config.FillerWords) {
		log.Debug("ignoring trivial transcript", "text", text)
		p.metrics().RecordUtterance(ctx, "filler")
		res.Completed = true
		return res
	}
	p.metrics().RecordUtterance(ctx, "complete")
	log.Info("caller said", "text", text)

	reply, spoke, err := p.respond(ctx, turn, text)
	res.Spoke = spoke
	if err != nil {
		if errors.Is(err, errSuperseded) || ctx.Err() != nil {
			return res
		}
		log.Warn("response failed", "err", err, "spoke", spoke)
		span.RecordError(err)
		if !spoke {
			// One attempt at the generic fallback, then give up on this turn.
			res.Spoke, _ = p.say(ctx, turn.ID, p.Agent.Prompts.GenericError)
		}
		res.Completed = p.Sequencer.IsCurrent(turn.ID)
		return res
	}
	if !p.Sequencer.IsCurrent(turn.ID) {
		return res
	}

	p.persist(ctx, callstore.RoleUser, text)
	p.persist(ctx, callstore.RoleAgent, reply)
	p.History.AddExchange(text, reply)
	res.Completed = true
	res.Farewell = ContainsPhrase(reply, p.Agent.FarewellPhrases)
	log.Info("agent replied", "text", reply, "farewell", res.Farewell)
	return res
}

// Say speaks a fixed text outside the LLM, for greetings and prompts. With
// record set a completed utterance is added to history and persisted.
func (p *Pipeline) Say(ctx context.Context, id uint64, text string, record bool) Result {
	spoke, err := p.say(ctx, id, text)
	res := Result{Spoke: spoke}
	if err != nil {
		if !errors.Is(err, errSuperseded) && ctx.Err() == nil {
			p.Log.Warn("prompt failed", "err", err)
		}
		res.Completed = !errors.Is(err, errSuperseded) && ctx.Err() == nil && p.Sequencer.IsCurrent(id)
		return res
	}
	res.Completed = p.Sequencer.IsCurrent(id)
	if res.Completed && record {
		p.persist(ctx, callstore.RoleAgent, text)
		p.History.AddAgent(text)
	}
	return res
}

// say speaks text as a single fragment followed by the end-of-speech mark.
func (p *Pipeline) say(ctx context.Context, id uint64, text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, nil
	}
	var first bool
	n, err := p.speakFragment(ctx, id, text, &first, time.Time{})
	if err != nil {
		return n > 0, err
	}
	return true, p.endOfSpeech(ctx, id)
}

// respond streams the LLM reply and speaks it fragment by fragment. It
// returns the full reply text.
func (p *Pipeline) respond(ctx context.Context, turn Turn, text string) (string, bool, error) {
	llmCtx, cancel := context.WithTimeout(ctx, p.Config.ProviderTimeout)
	defer cancel()

	messages := append(p.History.Messages(), llm.Message{Role: llm.RoleUser, Content: text})
	req := llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: p.Agent.SystemPrompt,
		Temperature:  p.Agent.Temperature,
		MaxTokens:    p.Agent.MaxTokens,
	}

	start := time.Now()
	ch, err := p.Providers.LLM.StreamCompletion(llmCtx, req)
	if err != nil {
		p.metrics().RecordProviderRequest(ctx, p.Names.LLM, "llm", "error")
		p.metrics().RecordProviderError(ctx, p.Names.LLM, "llm")
		return "", false, fmt.Errorf("call: start completion: %w", err)
	}

	frags := make(chan string, fragmentBuffer)
	var genErr error
	go func() {
		defer close(frags)
		splitter := NewSentenceSplitter(p.Config.MinFragmentChars)
		firstToken := true
		emit := func(f string) bool {
			select {
			case frags <- f:
				return true
			case <-llmCtx.Done():
				return false
			}
		}
		for chunk := range ch {
			if chunk.FinishReason == llm.FinishReasonError {
				genErr = fmt.Errorf("call: completion stream: %s", chunk.Text)
				audio.Drain(ch)
				return
			}
			if chunk.Text != "" && firstToken {
				firstToken = false
				p.metrics().LLMFirstToken.Record(ctx, time.Since(start).Seconds())
			}
			for _, f := range splitter.Push(chunk.Text) {
				if !emit(f) {
					audio.Drain(ch)
					return
				}
			}
		}
		if err := llmCtx.Err(); err != nil {
			genErr = fmt.Errorf("call: completion stream: %w", err)
			return
		}
		if rest := splitter.Flush(); rest != "" {
			emit(rest)
		}
	}()

	var (
		spoken     []string
		firstAudio bool
		spoke      bool
	)
	for frag := range frags {
		if !p.Sequencer.IsCurrent(turn.ID) {
			return "", spoke, errSuperseded
		}
		n, err := p.speakFragment(ctx, turn.ID, frag, &firstAudio, turn.EndedAt)
		if n > 0 {
			spoke = true
		}
		if err != nil {
			return "", spoke, err
		}
		spoken = append(spoken, frag)
	}
	if genErr != nil {
		p.metrics().RecordProviderRequest(ctx, p.Names.LLM, "llm", "error")
		p.metrics().RecordProviderError(ctx, p.Names.LLM, "llm")
		return "", spoke, genErr
	}
	p.metrics().RecordProviderRequest(ctx, p.Names.LLM, "llm", "ok")
	if len(spoken) == 0 {
		return "", false, errors.New("call: empty completion")
	}
	if err := p.endOfSpeech(ctx, turn.ID); err != nil {
		return "", spoke, err
	}
	return strings.Join(spoken, " "), spoke, nil
}

// speakFragment synthesizes text, streams it to the caller and waits until
// the far end reports it played. It returns the μ-law bytes sent.
func (p *Pipeline) speakFragment(ctx context.Context, id uint64, text string, firstAudio *bool, endedAt time.Time) (int, error) {
	if !p.Sequencer.IsCurrent(id) {
		return 0, errSuperseded
	}

	ttsCtx, cancel := context.WithTimeout(ctx, p.Config.ProviderTimeout)
	defer cancel()

	enc, err := NewEncoder(p.Providers.TTS.Format())
	if err != nil {
		return 0, err
	}

	start := time.Now()
	ch, err := p.Providers.TTS.SynthesizeStream(ttsCtx, text, p.Agent.Voice)
	if err != nil {
		p.metrics().RecordProviderRequest(ctx, p.Names.TTS, "tts", "error")
		p.metrics().RecordProviderError(ctx, p.Names.TTS, "tts")
		return 0, fmt.Errorf("call: synthesize: %w", err)
	}

	sent := 0
	send := func(ulaw []byte) error {
		if len(ulaw) == 0 {
			return nil
		}
		if !*firstAudio {
			*firstAudio = true
			if !endedAt.IsZero() {
				p.metrics().ResponseLatency.Record(ctx, time.Since(endedAt).Seconds())
			}
			if p.OnAudio != nil {
				p.OnAudio(id)
			}
		}
		if err := p.Player.Send(ctx, ulaw); err != nil {
			return fmt.Errorf("call: send audio: %w", err)
		}
		sent += len(ulaw)
		return nil
	}

	firstChunk := true
	for chunk := range ch {
		if !p.Sequencer.IsCurrent(id) {
			cancel()
			audio.Drain(ch)
			return sent, errSuperseded
		}
		if firstChunk {
			firstChunk = false
			p.metrics().TTSFirstAudio.Record(ctx, time.Since(start).Seconds())
		}
		ulaw, err := enc.Encode(chunk)
		if err != nil {
			p.Log.Debug("dropping undecodable audio chunk", "err", err, "bytes", len(chunk))
			continue
		}
		if err := send(ulaw); err != nil {
			cancel()
			audio.Drain(ch)
			return sent, err
		}
	}
	if !p.Sequencer.IsCurrent(id) {
		return sent, errSuperseded
	}
	// The resampler holds the last few milliseconds of the fragment.
	if tail, err := enc.Flush(); err != nil {
		p.Log.Debug("dropping resampler tail", "err", err)
	} else if err := send(tail); err != nil {
		return sent, err
	}
	if sent == 0 {
		p.metrics().RecordProviderRequest(ctx, p.Names.TTS, "tts", "error")
		p.metrics().RecordProviderError(ctx, p.Names.TTS, "tts")
		if err := ttsCtx.Err(); err != nil && ctx.Err() == nil {
			return 0, fmt.Errorf("call: synthesize: %w", err)
		}
		return 0, errNoAudio
	}
	p.metrics().RecordProviderRequest(ctx, p.Names.TTS, "tts", "ok")

	done, err := p.Player.Mark(ctx, "")
	if err != nil {
		return sent, fmt.Errorf("call: send mark: %w", err)
	}
	if err := p.Player.Await(ctx, done, MulawDuration(sent)); err != nil {
		return sent, err
	}
	if !p.Sequencer.IsCurrent(id) {
		return sent, errSuperseded
	}
	return sent, nil
}

// endOfSpeech marks the end of an agent response.
func (p *Pipeline) endOfSpeech(ctx context.Context, id uint64) error {
	if !p.Sequencer.IsCurrent(id) {
		return errSuperseded
	}
	done, err := p.Player.Mark(ctx, mediastream.MarkEndOfSpeech)
	if err != nil {
		return fmt.Errorf("call: send mark: %w", err)
	}
	return p.Player.Await(ctx, done, 0)
}

// persist writes a transcript entry. Failures never affect the call.
func (p *Pipeline) persist(ctx context.Context, role callstore.Role, text string) {
	if p.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := p.Store.AppendTranscriptEntry(ctx, p.CallID, role, text); err != nil {
		p.Log.Warn("failed to persist transcript entry", "role", role, "err", err)
	}
}

func (p *Pipeline) metrics() *observe.Metrics {
	if p.Metrics != nil {
		return p.Metrics
	}
	return observe.DefaultMetrics()
}
