package audio

import "math"

// RMS returns the root-mean-square energy of a PCM16 buffer in sample units
// (0–32767). Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(sampleAt(pcm, i))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Peak returns the largest absolute sample value in a PCM16 buffer.
func Peak(pcm []byte) int {
	var peak int
	for i := range len(pcm) / 2 {
		s := int(sampleAt(pcm, i))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return peak
}

// GainConfig controls [NormalizeGain].
type GainConfig struct {
	// QuietRMS is the level below which audio is boosted.
	QuietRMS float64 `yaml:"quiet_rms"`

	// TargetRMS is the level quiet audio is boosted towards.
	TargetRMS float64 `yaml:"target_rms"`

	// MaxGain caps the multiplier.
	MaxGain float64 `yaml:"max_gain"`
}

// DefaultGainConfig returns the gain settings used for telephone audio.
func DefaultGainConfig() GainConfig {
	return GainConfig{QuietRMS: 1000, TargetRMS: 2500, MaxGain: 4}
}

// NormalizeGain boosts quiet speech towards cfg.TargetRMS. Audio at or above
// cfg.QuietRMS is returned unchanged. The gain never exceeds cfg.MaxGain and
// is reduced further if the loudest sample would clip.
func NormalizeGain(pcm []byte, cfg GainConfig) []byte {
	rms := RMS(pcm)
	if rms == 0 || rms >= cfg.QuietRMS {
		return pcm
	}
	gain := cfg.TargetRMS / rms
	if cfg.MaxGain > 0 && gain > cfg.MaxGain {
		gain = cfg.MaxGain
	}
	if gain <= 1 {
		return pcm
	}
	if peak := Peak(pcm); peak > 0 && float64(peak)*gain > 32767 {
		gain = 32767 / float64(peak)
	}
	return scale(pcm, gain)
}

// GateConfig controls [NoiseGate].
type GateConfig struct {
	// Threshold is the sample magnitude below which samples are attenuated.
	Threshold int `yaml:"threshold"`

	// Attenuation multiplies gated samples; 0 < Attenuation < 1.
	Attenuation float64 `yaml:"attenuation"`

	// StrongRMS disables the gate for buffers already this loud.
	StrongRMS float64 `yaml:"strong_rms"`
}

// DefaultGateConfig returns the gate settings used for telephone audio.
func DefaultGateConfig() GateConfig {
	return GateConfig{Threshold: 200, Attenuation: 0.25, StrongRMS: 1500}
}

// NoiseGate attenuates low-magnitude samples to suppress line hiss. Samples
// are scaled by cfg.Attenuation rather than zeroed so consonant tails
// survive. Buffers with RMS at or above cfg.StrongRMS are returned unchanged.
func NoiseGate(pcm []byte, cfg GateConfig) []byte {
	if len(pcm) < 2 || RMS(pcm) >= cfg.StrongRMS {
		return pcm
	}
	out := make([]byte, len(pcm)-len(pcm)%2)
	for i := range len(out) / 2 {
		s := int32(sampleAt(pcm, i))
		mag := s
		if mag < 0 {
			mag = -mag
		}
		if int(mag) < cfg.Threshold {
			s = int32(float64(s) * cfg.Attenuation)
		}
		putSample(out, i, s)
	}
	return out
}

func scale(pcm []byte, gain float64) []byte {
	out := make([]byte, len(pcm)-len(pcm)%2)
	for i := range len(out) / 2 {
		putSample(out, i, int32(math.Round(float64(sampleAt(pcm, i))*gain)))
	}
	return out
}
