package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/phonoxa/pkg/provider/stt"
	"github.com/MrWong99/phonoxa/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

type recorded struct {
	mu       sync.Mutex
	fields   map[string]string
	fileSize int
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText and records the multipart fields.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, rec *recorded) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		calls.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if rec != nil {
			rec.mu.Lock()
			rec.fields = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				rec.fields[k] = v[0]
			}
			if fh := r.MultipartForm.File["file"]; len(fh) == 1 {
				rec.fileSize = int(fh[0].Size)
			}
			rec.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeechPCM generates `samples` samples of a 440 Hz sine at 16 kHz.
func makeSpeechPCM(samples int) []byte {
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(10_000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	t.Parallel()
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- Transcribe -------------------------------------------------------------

func TestTranscribe_ReturnsServerText(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	rec := &recorded{}
	srv := newMockServer(t, "  I'd like to book a table. ", &calls, rec)

	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pcm := makeSpeechPCM(16000)
	tr, err := p.Transcribe(context.Background(), pcm, stt.Request{
		SampleRate: 16000,
		Language:   "en-US",
		Keywords:   []stt.KeywordBoost{{Keyword: "Acme"}, {Keyword: "Zephyr"}},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "I'd like to book a table." {
		t.Errorf("want trimmed text, got %q", tr.Text)
	}
	if calls.Load() != 1 {
		t.Errorf("want 1 server call, got %d", calls.Load())
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.fields["language"] != "en" {
		t.Errorf("language: want %q, got %q", "en", rec.fields["language"])
	}
	if rec.fields["model"] != "base.en" {
		t.Errorf("model: want %q, got %q", "base.en", rec.fields["model"])
	}
	if rec.fields["prompt"] != "Acme, Zephyr" {
		t.Errorf("prompt: want %q, got %q", "Acme, Zephyr", rec.fields["prompt"])
	}
	if rec.fileSize != 44+len(pcm) {
		t.Errorf("file size: want %d, got %d", 44+len(pcm), rec.fileSize)
	}
}

func TestTranscribe_ShortInputSkipsServer(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := newMockServer(t, "should not appear", &calls, nil)
	p, _ := whisper.New(srv.URL)

	for _, pcm := range [][]byte{nil, makeSpeechPCM(800)} {
		tr, err := p.Transcribe(context.Background(), pcm, stt.Request{SampleRate: 16000})
		if err != nil {
			t.Fatalf("Transcribe: %v", err)
		}
		if tr.Text != "" {
			t.Errorf("want empty transcript, got %q", tr.Text)
		}
	}
	if calls.Load() != 0 {
		t.Errorf("want no server calls, got %d", calls.Load())
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), makeSpeechPCM(16000), stt.Request{SampleRate: 16000}); err == nil {
		t.Fatal("expected error on HTTP 500, got nil")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := newMockServer(t, "x", &calls, nil)
	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, makeSpeechPCM(16000), stt.Request{SampleRate: 16000}); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
