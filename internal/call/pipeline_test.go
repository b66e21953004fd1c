package call_test

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/phonoxa/internal/agent"
	"github.com/MrWong99/phonoxa/internal/call"
	"github.com/MrWong99/phonoxa/internal/callstore"
	storemock "github.com/MrWong99/phonoxa/internal/callstore/mock"
	"github.com/MrWong99/phonoxa/internal/mediastream"
	"github.com/MrWong99/phonoxa/pkg/provider/llm"
	llmmock "github.com/MrWong99/phonoxa/pkg/provider/llm/mock"
	"github.com/MrWong99/phonoxa/pkg/provider/stt"
	sttmock "github.com/MrWong99/phonoxa/pkg/provider/stt/mock"
	"github.com/MrWong99/phonoxa/pkg/provider/tts"
	ttsmock "github.com/MrWong99/phonoxa/pkg/provider/tts/mock"
)

// echoSink acknowledges every mark as soon as it is sent, like a far end
// with nothing left to play.
type echoSink struct {
	fakeSink
	player *call.Player
}

func (e *echoSink) SendMark(ctx context.Context, name string) error {
	if err := e.fakeSink.SendMark(ctx, name); err != nil {
		return err
	}
	e.player.Ack(name)
	return nil
}

// sinePCM returns n samples of a 400 Hz tone at 8 kHz.
func sinePCM(n int, amplitude float64) []byte {
	pcm := make([]byte, n*2)
	for i := range n {
		v := int16(amplitude * math.Sin(2*math.Pi*400*float64(i)/8000))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

type pipelineFixture struct {
	pipeline *call.Pipeline
	seq      *call.Sequencer
	sink     *echoSink
	stt      *sttmock.Provider
	llm      *llmmock.Provider
	tts      *ttsmock.Provider
	store    *storemock.Store
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	tuning := call.DefaultTuning()
	tuning.Pipeline.ProviderTimeout = 2 * time.Second
	tuning.Pipeline.PlaybackSlack = 10 * time.Millisecond

	f := &pipelineFixture{
		seq:   &call.Sequencer{},
		sink:  &echoSink{},
		stt:   &sttmock.Provider{},
		llm:   &llmmock.Provider{},
		tts:   &ttsmock.Provider{SynthesizeChunks: [][]byte{make([]byte, 160), make([]byte, 160)}},
		store: &storemock.Store{},
	}
	player := call.NewPlayer(f.sink, tuning.Pipeline.PlaybackSlack)
	f.sink.player = player

	cfg := agent.Config{
		ID:           "front-desk",
		Name:         "Ada",
		SystemPrompt: "You answer the phone for a restaurant.",
		Keywords:     []string{"Trattoria"},
	}.WithDefaults()

	f.pipeline = &call.Pipeline{
		CallID:    "CA123",
		Agent:     cfg,
		Config:    tuning.Pipeline,
		Gain:      tuning.Gain,
		Gate:      tuning.Gate,
		Providers: call.Providers{STT: f.stt, LLM: f.llm, TTS: f.tts},
		Names:     call.ProviderNames{STT: "mock", LLM: "mock", TTS: "mock"},
		Store:     f.store,
		History:   call.NewHistory(tuning.Pipeline.HistoryTokens, nil),
		Player:    player,
		Sequencer: f.seq,
		Log:       slog.New(slog.DiscardHandler),
	}
	return f
}

func (f *pipelineFixture) turn(speculative string) call.Turn {
	return call.Turn{
		ID:          f.seq.Next(),
		Segment:     &call.SpeechSegment{PCM: sinePCM(4000, 3000), Frames: 25},
		Speculative: speculative,
		EndedAt:     time.Now(),
	}
}

func TestPipeline_Reply(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	f.stt.Result = stt.Transcript{Text: " I'd like a table for two "}
	f.llm.StreamChunks = []llm.Chunk{
		{Text: "Of course! "},
		{Text: "What time would you like?"},
		{FinishReason: "stop"},
	}

	res := f.pipeline.Run(context.Background(), f.turn(""))
	if !res.Spoke || !res.Completed || res.Farewell {
		t.Fatalf("want spoke and completed without farewell, got %+v", res)
	}

	if n := f.stt.CallCount(); n != 1 {
		t.Fatalf("want 1 transcription, got %d", n)
	}
	req := f.stt.Calls[0].Req
	if req.SampleRate != 16000 || req.Language != "en-US" {
		t.Errorf("want 16 kHz en-US request, got %+v", req)
	}
	if len(req.Keywords) != 1 || req.Keywords[0].Keyword != "Trattoria" {
		t.Errorf("want agent keyword boosted, got %+v", req.Keywords)
	}

	wantTexts := []string{"Of course!", "What time would you like?"}
	if got := f.tts.Texts(); !slices.Equal(got, wantTexts) {
		t.Errorf("synthesized: want %q, got %q", wantTexts, got)
	}
	wantMarks := []string{"fragment-1", "fragment-2", mediastream.MarkEndOfSpeech}
	if !slices.Equal(f.sink.marks, wantMarks) {
		t.Errorf("marks: want %v, got %v", wantMarks, f.sink.marks)
	}

	llmReq := f.llm.StreamCalls[0].Req
	if llmReq.SystemPrompt != f.pipeline.Agent.SystemPrompt {
		t.Errorf("want agent system prompt, got %q", llmReq.SystemPrompt)
	}
	if last := llmReq.Messages[len(llmReq.Messages)-1]; last.Content != "I'd like a table for two" {
		t.Errorf("want trimmed transcript as last message, got %q", last.Content)
	}

	entries := f.store.Snapshot()
	if len(entries) != 2 {
		t.Fatalf("want 2 transcript entries, got %d", len(entries))
	}
	if entries[0].Role != callstore.RoleUser || entries[1].Role != callstore.RoleAgent {
		t.Errorf("want user then agent entry, got %+v", entries)
	}
	if entries[1].Text != "Of course! What time would you like?" {
		t.Errorf("want joined reply persisted, got %q", entries[1].Text)
	}
	if f.pipeline.History.Len() != 2 {
		t.Errorf("want exchange in history, got %d messages", f.pipeline.History.Len())
	}
}

func TestPipeline_SpeculativeSkipsSTT(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	f.llm.StreamChunks = []llm.Chunk{{Text: "Thanks for calling, goodbye!"}}

	res := f.pipeline.Run(context.Background(), f.turn("that's all, thanks"))
	if f.stt.CallCount() != 0 {
		t.Error("want no transcription with a speculative transcript")
	}
	if !res.Farewell {
		t.Errorf("want farewell detected, got %+v", res)
	}
}

func TestPipeline_FillerIgnored(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	f.stt.Result = stt.Transcript{Text: "Umm..."}

	res := f.pipeline.Run(context.Background(), f.turn(""))
	if res.Spoke || !res.Completed {
		t.Errorf("want silent completed run, got %+v", res)
	}
	if len(f.llm.StreamCalls) != 0 {
		t.Error("want no completion for filler")
	}
	if len(f.store.Snapshot()) != 0 {
		t.Error("want nothing persisted for filler")
	}
}

func TestPipeline_TranscriptionFailureAsksAgain(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	f.stt.Err = errors.New("stt down")

	res := f.pipeline.Run(context.Background(), f.turn(""))
	if !res.Spoke || !res.Completed {
		t.Errorf("want prompt spoken, got %+v", res)
	}
	want := []string{f.pipeline.Agent.Prompts.DidntCatch}
	if got := f.tts.Texts(); !slices.Equal(got, want) {
		t.Errorf("want %q, got %q", want, got)
	}
	if f.pipeline.History.Len() != 0 {
		t.Error("want history untouched")
	}
}

func TestPipeline_GenerationFailureFallsBack(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		setup func(*pipelineFixture)
	}{
		{"start error", func(f *pipelineFixture) { f.llm.StreamErr = errors.New("llm down") }},
		{"stream error", func(f *pipelineFixture) {
			f.llm.StreamChunks = []llm.Chunk{{FinishReason: llm.FinishReasonError, Text: "overloaded"}}
		}},
		{"empty completion", func(f *pipelineFixture) {
			f.llm.StreamChunks = []llm.Chunk{{FinishReason: "stop"}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newPipelineFixture(t)
			tc.setup(f)

			res := f.pipeline.Run(context.Background(), f.turn("what are your hours"))
			if !res.Spoke || !res.Completed {
				t.Errorf("want fallback spoken, got %+v", res)
			}
			want := []string{f.pipeline.Agent.Prompts.GenericError}
			if got := f.tts.Texts(); !slices.Equal(got, want) {
				t.Errorf("want %q, got %q", want, got)
			}
			if len(f.store.Snapshot()) != 0 {
				t.Error("want nothing persisted on failure")
			}
		})
	}
}

func TestPipeline_NoFallbackAfterPartialReply(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	f.llm.StreamChunks = []llm.Chunk{
		{Text: "We open at noon. "},
		{FinishReason: llm.FinishReasonError, Text: "connection reset"},
	}

	res := f.pipeline.Run(context.Background(), f.turn("when do you open"))
	if !res.Spoke {
		t.Fatalf("want partial reply spoken, got %+v", res)
	}
	want := []string{"We open at noon."}
	if got := f.tts.Texts(); !slices.Equal(got, want) {
		t.Errorf("want only the partial reply, got %q", got)
	}
}

func TestPipeline_SupersededStops(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	f.llm.StreamChunks = []llm.Chunk{{Text: "First sentence here. Second sentence here."}}
	f.pipeline.OnAudio = func(uint64) { f.seq.Next() }

	res := f.pipeline.Run(context.Background(), f.turn("tell me something"))
	if res.Completed {
		t.Errorf("want superseded run incomplete, got %+v", res)
	}
	if !res.Spoke {
		t.Error("want first audio reported as spoken")
	}
	if n := f.tts.CallCount(); n != 1 {
		t.Errorf("want synthesis stopped after first fragment, got %d calls", n)
	}
	if len(f.store.Snapshot()) != 0 {
		t.Error("want superseded exchange not persisted")
	}
}

func TestPipeline_SayRecords(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	id := f.seq.Next()

	res := f.pipeline.Say(context.Background(), id, "Hello, Trattoria Ada speaking.", true)
	if !res.Spoke || !res.Completed {
		t.Fatalf("want greeting spoken, got %+v", res)
	}
	entries := f.store.Snapshot()
	if len(entries) != 1 || entries[0].Role != callstore.RoleAgent {
		t.Errorf("want one agent entry, got %+v", entries)
	}
	msgs := f.pipeline.History.Messages()
	if len(msgs) != 1 || msgs[0].Role != llm.RoleAssistant {
		t.Errorf("want greeting in history, got %+v", msgs)
	}

	res = f.pipeline.Say(context.Background(), f.seq.Next(), "Are you still there?", false)
	if !res.Completed {
		t.Fatalf("want prompt completed, got %+v", res)
	}
	if len(f.store.Snapshot()) != 1 || f.pipeline.History.Len() != 1 {
		t.Error("want unrecorded prompt kept out of store and history")
	}
}

func TestPipeline_PCMFragmentSentInFull(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	pcm := sinePCM(24000, 6000)
	var chunks [][]byte
	for off := 0; off < len(pcm); off += 960 {
		chunks = append(chunks, pcm[off:off+960])
	}
	f.tts.SynthesizeChunks = chunks
	f.tts.OutputFormat = tts.Format{Encoding: tts.EncodingPCM16, SampleRate: 24000}

	res := f.pipeline.Say(context.Background(), f.seq.Next(), "One moment please.", false)
	if !res.Completed {
		t.Fatalf("want fragment completed, got %+v", res)
	}

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	total := 0
	for _, m := range f.sink.media {
		total += len(m)
	}
	// One second of 24 kHz PCM is 8000 bytes of μ-law, including the
	// samples the resampler still held when the stream ended.
	if total < 7920 || total > 8080 {
		t.Errorf("want about 8000 bytes of μ-law, got %d", total)
	}
	if len(f.sink.marks) == 0 || f.sink.marks[0] != "fragment-1" {
		t.Errorf("want fragment mark after the audio, got %v", f.sink.marks)
	}
}

func TestPipeline_SynthesisFailure(t *testing.T) {
	t.Parallel()
	f := newPipelineFixture(t)
	f.tts.SynthesizeErr = errors.New("tts down")

	res := f.pipeline.Say(context.Background(), f.seq.Next(), "Hello", true)
	if res.Spoke {
		t.Errorf("want nothing spoken, got %+v", res)
	}
	if len(f.store.Snapshot()) != 0 {
		t.Error("want failed greeting not persisted")
	}
}
