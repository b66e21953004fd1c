// Package coqui synthesizes speech on a self-hosted Coqui TTS server, either
// the standard server image (GET /api/tts) or the XTTS v2 API server
// (POST /tts_to_audio/). Both answer each fragment with a complete WAV file,
// which is decoded, brought to the configured sample rate and streamed in
// chunks.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("de"))
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/phonoxa/pkg/audio"
	"github.com/MrWong99/phonoxa/pkg/provider/tts"
)

// APIMode selects the server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

const (
	// DefaultSampleRate is the output rate of the stock Coqui VITS models.
	DefaultSampleRate = 22050

	// chunkBytes is roughly 100 ms at the default rate, sample aligned.
	chunkBytes = 4410
)

var _ tts.Provider = (*Provider)(nil)

// Provider is a [tts.Provider] for one Coqui server.
type Provider struct {
	baseURL    string
	mode       APIMode
	language   string
	sampleRate int
	client     *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithAPIMode selects the server API. The default is [APIModeStandard].
func WithAPIMode(m APIMode) Option { return func(p *Provider) { p.mode = m } }

// WithLanguage sets the language sent with every request. The default is "en".
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithSampleRate declares the rate of the emitted PCM. Server output at any
// other rate is resampled to it.
func WithSampleRate(hz int) Option {
	return func(p *Provider) {
		if hz > 0 {
			p.sampleRate = hz
		}
	}
}

// WithTimeout bounds each synthesis request. The default is 30 seconds.
func WithTimeout(d time.Duration) Option { return func(p *Provider) { p.client.Timeout = d } }

// New returns a provider for the server at baseURL.
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: server url is required")
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		mode:       APIModeStandard,
		language:   "en",
		sampleRate: DefaultSampleRate,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	switch p.mode {
	case APIModeStandard, APIModeXTTS:
	default:
		return nil, fmt.Errorf("coqui: unknown api mode %q", p.mode)
	}
	return p, nil
}

func (p *Provider) Format() tts.Format {
	return tts.Format{Encoding: tts.EncodingPCM16, SampleRate: p.sampleRate}
}

// SynthesizeStream fetches the whole fragment before the first chunk is
// sent; the servers do not stream. XTTS needs voice.ID as its speaker.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("coqui: text is empty")
	}
	if p.mode == APIModeXTTS && voice.ID == "" {
		return nil, errors.New("coqui: xtts requires a voice id")
	}

	req, err := p.newRequest(ctx, text, voice)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("coqui: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read audio: %w", err)
	}
	pcm, err := p.toPCM(wav)
	if err != nil {
		return nil, err
	}

	ch := make(chan []byte, len(pcm)/chunkBytes+1)
	go func() {
		defer close(ch)
		for len(pcm) > 0 {
			n := min(chunkBytes, len(pcm))
			select {
			case ch <- pcm[:n]:
			case <-ctx.Done():
				return
			}
			pcm = pcm[n:]
		}
	}()
	return ch, nil
}

func (p *Provider) newRequest(ctx context.Context, text string, voice tts.VoiceProfile) (*http.Request, error) {
	if p.mode == APIModeXTTS {
		body, err := json.Marshal(map[string]string{
			"text":        text,
			"speaker_wav": voice.ID,
			"language":    p.language,
		})
		if err != nil {
			return nil, fmt.Errorf("coqui: encode request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tts_to_audio/", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("coqui: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/wav")
		return req, nil
	}

	q := url.Values{"text": {text}}
	if voice.ID != "" {
		q.Set("speaker_id", voice.ID)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tts?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")
	return req, nil
}

// toPCM decodes a mono WAV response at the declared rate.
func (p *Provider) toPCM(wav []byte) ([]byte, error) {
	pcm, rate, channels, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	if channels != 1 {
		return nil, fmt.Errorf("coqui: want mono audio, server sent %d channels", channels)
	}
	if len(pcm) == 0 || rate == p.sampleRate {
		return pcm, nil
	}
	out, err := audio.Resample(pcm, rate, p.sampleRate)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	return out, nil
}
