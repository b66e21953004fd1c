package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/phonoxa/pkg/provider/tts"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("key", WithOutputFormat("mp3_44100_128")); err == nil {
		t.Error("expected error for mp3 output format")
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    tts.Format
		wantErr bool
	}{
		{"ulaw_8000", tts.Format{Encoding: tts.EncodingMulaw, SampleRate: 8000}, false},
		{"pcm_16000", tts.Format{Encoding: tts.EncodingPCM16, SampleRate: 16000}, false},
		{"pcm_24000", tts.Format{Encoding: tts.EncodingPCM16, SampleRate: 24000}, false},
		{"mp3_44100_128", tts.Format{}, true},
		{"pcm", tts.Format{}, true},
		{"pcm_abc", tts.Format{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := parseOutputFormat(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("want err=%v, got %v", tc.wantErr, err)
			}
			if got != tc.want {
				t.Errorf("want %v, got %v", tc.want, got)
			}
		})
	}
}

func TestFormat_Default(t *testing.T) {
	t.Parallel()
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	want := tts.Format{Encoding: tts.EncodingMulaw, SampleRate: 8000}
	if got := p.Format(); got != want {
		t.Errorf("want %v, got %v", want, got)
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()
	p, _ := New("key", WithModel("eleven_turbo_v2"), WithEndpoint("ws://localhost:9/v1/text-to-speech/"))
	got := p.buildURL("voice-1")
	if !strings.HasPrefix(got, "ws://localhost:9/v1/text-to-speech/voice-1/stream-input?") {
		t.Errorf("unexpected URL prefix: %s", got)
	}
	if !strings.Contains(got, "model_id=eleven_turbo_v2") || !strings.Contains(got, "output_format=ulaw_8000") {
		t.Errorf("missing query params: %s", got)
	}
}

func TestSynthesizeStream_EmptyVoice(t *testing.T) {
	t.Parallel()
	p, _ := New("key")
	if _, err := p.SynthesizeStream(context.Background(), "hi", tts.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
}

// fakeServer records the text messages it receives and answers the flush
// with two audio chunks and a final marker.
type fakeServer struct {
	mu   sync.Mutex
	msgs []textMessage
}

func (f *fakeServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()
	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var m textMessage
		_ = json.Unmarshal(data, &m)
		f.mu.Lock()
		f.msgs = append(f.msgs, m)
		f.mu.Unlock()
		if m.Text != "" {
			continue
		}
		for _, chunk := range []string{"abc", "def"} {
			resp, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString([]byte(chunk))})
			if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
				return
			}
		}
		final, _ := json.Marshal(audioResponse{IsFinal: true})
		_ = conn.Write(ctx, websocket.MessageText, final)
		// Wait for the client to close.
		_, _, _ = conn.Read(ctx)
		return
	}
}

func TestSynthesizeStream_FakeServer(t *testing.T) {
	t.Parallel()
	fake := &fakeServer{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	defer srv.Close()

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := p.SynthesizeStream(ctx, "Hello there.", tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var got []byte
	for chunk := range ch {
		got = append(got, chunk...)
	}
	if string(got) != "abcdef" {
		t.Errorf("want audio %q, got %q", "abcdef", got)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.msgs) != 3 {
		t.Fatalf("want 3 messages, got %d", len(fake.msgs))
	}
	if fake.msgs[0].XiAPIKey != "secret" || fake.msgs[0].Text != " " {
		t.Errorf("unexpected opening message: %+v", fake.msgs[0])
	}
	if fake.msgs[1].Text != "Hello there. " {
		t.Errorf("want text %q, got %q", "Hello there. ", fake.msgs[1].Text)
	}
	if fake.msgs[2].Text != "" {
		t.Errorf("want flush message, got %q", fake.msgs[2].Text)
	}
}
