// Package call implements the real-time duplex session that runs on one
// telephone call's media stream: frame classification and utterance
// segmentation, barge-in detection, speculative transcription, response
// pipeline sequencing, playback over the stream and the call lifecycle.
//
// A [Session] owns all per-call state and is driven by a single goroutine
// reading inbound events. Response pipelines and speculative transcriptions
// run in auxiliary goroutines and are cancelled through the [Sequencer].
package call

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/phonoxa/pkg/audio"
)

// Tuning holds every tunable of a call. The zero value is not usable; start
// from [DefaultTuning].
type Tuning struct {
	VAD         VADConfig         `yaml:"vad"`
	Segmenter   SegmenterConfig   `yaml:"segmenter"`
	Interrupt   InterruptConfig   `yaml:"interrupt"`
	Speculative SpeculativeConfig `yaml:"speculative"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Lifecycle   LifecycleConfig   `yaml:"lifecycle"`
	Gain        audio.GainConfig  `yaml:"gain"`
	Gate        audio.GateConfig  `yaml:"gate"`
}

// VADConfig configures the per-call VAD session.
type VADConfig struct {
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
}

// SegmenterConfig configures utterance segmentation.
type SegmenterConfig struct {
	// MinSpeechRMS is the energy a VAD-positive frame needs to count as speech.
	MinSpeechRMS float64 `yaml:"min_speech_rms"`

	// SilenceRunFrames ends an utterance after this many silent frames.
	SilenceRunFrames int `yaml:"silence_run_frames"`

	// MinSpeechFrames discards shorter segments as noise.
	MinSpeechFrames int `yaml:"min_speech_frames"`
}

// InterruptConfig configures noise calibration and barge-in detection.
type InterruptConfig struct {
	CalibrationFrames        int           `yaml:"calibration_frames"`
	BaseThreshold            float64       `yaml:"base_threshold"`
	NoiseMargin              float64       `yaml:"noise_margin"`
	PrimarySpeakerMultiplier float64       `yaml:"primary_speaker_multiplier"`
	MaxThreshold             float64       `yaml:"max_threshold"`
	Grace                    time.Duration `yaml:"grace"`
	Debounce                 time.Duration `yaml:"debounce"`
	SustainedFrames          int           `yaml:"sustained_frames"`
	MaxVariance              float64       `yaml:"max_variance"`
	GapFrames                int           `yaml:"gap_frames"`
	ClearRepeats             int           `yaml:"clear_repeats"`
}

// SpeculativeConfig configures background transcription of the segment in
// progress.
type SpeculativeConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	MinBytes int           `yaml:"min_bytes"`
}

// PipelineConfig configures the response pipeline.
type PipelineConfig struct {
	STTSampleRate      int           `yaml:"stt_sample_rate"`
	MinTranscriptChars int           `yaml:"min_transcript_chars"`
	MinFragmentChars   int           `yaml:"min_fragment_chars"`
	FillerWords        []string      `yaml:"filler_words"`
	ProviderTimeout    time.Duration `yaml:"provider_timeout"`
	PlaybackSlack      time.Duration `yaml:"playback_slack"`
	FarewellGrace      time.Duration `yaml:"farewell_grace"`
	HistoryTokens      int           `yaml:"history_tokens"`
}

// LifecycleConfig configures call phases and watchdogs.
type LifecycleConfig struct {
	Settling         time.Duration `yaml:"settling"`
	InactivityPrompt time.Duration `yaml:"inactivity_prompt"`
	InactivityHangup time.Duration `yaml:"inactivity_hangup"`
	MaxCallDuration  time.Duration `yaml:"max_call_duration"`
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
}

// DefaultTuning returns settings for 8 kHz telephone audio in 20 ms frames.
func DefaultTuning() Tuning {
	return Tuning{
		VAD: VADConfig{SpeechThreshold: 0.3, SilenceThreshold: 0.15},
		Segmenter: SegmenterConfig{
			MinSpeechRMS:     250,
			SilenceRunFrames: 150,
			MinSpeechFrames:  6,
		},
		Interrupt: InterruptConfig{
			CalibrationFrames:        25,
			BaseThreshold:            800,
			NoiseMargin:              400,
			PrimarySpeakerMultiplier: 2.0,
			MaxThreshold:             2500,
			Grace:                    300 * time.Millisecond,
			Debounce:                 time.Second,
			SustainedFrames:          7,
			MaxVariance:              1_500_000,
			GapFrames:                2,
			ClearRepeats:             3,
		},
		Speculative: SpeculativeConfig{
			Enabled:  true,
			Interval: 750 * time.Millisecond,
			MinBytes: 8000,
		},
		Pipeline: PipelineConfig{
			STTSampleRate:      16000,
			MinTranscriptChars: 2,
			MinFragmentChars:   5,
			FillerWords:        []string{"uh", "um", "hmm", "mm", "ah", "er", "oh"},
			ProviderTimeout:    15 * time.Second,
			PlaybackSlack:      2 * time.Second,
			FarewellGrace:      2 * time.Second,
			HistoryTokens:      3000,
		},
		Lifecycle: LifecycleConfig{
			Settling:         500 * time.Millisecond,
			InactivityPrompt: 8 * time.Second,
			InactivityHangup: 30 * time.Second,
			MaxCallDuration:  15 * time.Minute,
			WatchdogInterval: 250 * time.Millisecond,
		},
		Gain: audio.DefaultGainConfig(),
		Gate: audio.DefaultGateConfig(),
	}
}

// Validate reports every inconsistent setting.
func (t Tuning) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("call: "+format, args...))
		}
	}

	check(t.VAD.SpeechThreshold > 0 && t.VAD.SpeechThreshold <= 1, "vad.speech_threshold must be in (0, 1], got %g", t.VAD.SpeechThreshold)
	check(t.VAD.SilenceThreshold >= 0 && t.VAD.SilenceThreshold <= t.VAD.SpeechThreshold, "vad.silence_threshold must be in [0, speech_threshold], got %g", t.VAD.SilenceThreshold)
	check(t.Segmenter.SilenceRunFrames > 0, "segmenter.silence_run_frames must be > 0")
	check(t.Segmenter.MinSpeechFrames > 0, "segmenter.min_speech_frames must be > 0")
	check(t.Interrupt.CalibrationFrames >= 0, "interrupt.calibration_frames must be >= 0")
	check(t.Interrupt.BaseThreshold > 0, "interrupt.base_threshold must be > 0")
	check(t.Interrupt.MaxThreshold >= t.Interrupt.BaseThreshold, "interrupt.max_threshold must be >= base_threshold")
	check(t.Interrupt.SustainedFrames > 0, "interrupt.sustained_frames must be > 0")
	check(t.Interrupt.MaxVariance > 0, "interrupt.max_variance must be > 0")
	check(t.Interrupt.GapFrames > 0, "interrupt.gap_frames must be > 0")
	check(t.Interrupt.ClearRepeats > 0, "interrupt.clear_repeats must be > 0")
	check(!t.Speculative.Enabled || t.Speculative.Interval > 0, "speculative.interval must be > 0 when enabled")
	check(t.Pipeline.STTSampleRate > 0, "pipeline.stt_sample_rate must be > 0")
	check(t.Pipeline.ProviderTimeout > 0, "pipeline.provider_timeout must be > 0")
	check(t.Lifecycle.InactivityPrompt > 0, "lifecycle.inactivity_prompt must be > 0")
	check(t.Lifecycle.InactivityHangup > t.Lifecycle.InactivityPrompt, "lifecycle.inactivity_hangup must exceed inactivity_prompt")
	check(t.Lifecycle.MaxCallDuration > 0, "lifecycle.max_call_duration must be > 0")
	check(t.Lifecycle.WatchdogInterval > 0, "lifecycle.watchdog_interval must be > 0")

	return errors.Join(errs...)
}
