package stt

import "time"

// Transcript is what a provider heard in one utterance.
type Transcript struct {
	Text string

	// Confidence is in [0, 1], or zero when the backend does not say.
	Confidence float64

	// Language is the detected language, or the requested one echoed back.
	Language string

	// Duration is the length of the audio that was transcribed.
	Duration time.Duration
}

// KeywordBoost biases recognition towards a word the caller is likely to
// say, such as the business name or a menu item. Boost uses the backend's own
// scale; the pipeline sends 2 for every agent keyword.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
