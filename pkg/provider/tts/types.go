package tts

import "fmt"

// Encoding identifies the sample encoding of synthesized audio.
type Encoding string

const (
	// EncodingPCM16 is signed 16-bit little-endian mono PCM.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingMulaw is G.711 μ-law, one byte per sample.
	EncodingMulaw Encoding = "mulaw"
)

// Format describes the audio a Provider emits.
type Format struct {
	Encoding   Encoding
	SampleRate int
}

// String returns e.g. "pcm16@24000Hz".
func (f Format) String() string {
	return fmt.Sprintf("%s@%dHz", f.Encoding, f.SampleRate)
}

// VoiceProfile selects a voice for synthesis.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable voice name.
	Name string `yaml:"name" json:"name,omitempty"`

	// Provider names the TTS backend the voice belongs to. Empty means any.
	Provider string `yaml:"provider" json:"provider,omitempty"`

	// SpeedFactor adjusts speaking rate (0.5–2.0). Zero means the backend default.
	SpeedFactor float64 `yaml:"speed_factor" json:"speed_factor,omitempty"`
}
