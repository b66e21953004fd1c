// Package audio holds the PCM primitives shared by the call pipeline: μ-law
// codec, resampling, WAV containers, energy measurement and gain shaping.
//
// All PCM in this package is signed 16-bit little-endian. Functions are pure
// and safe for concurrent use unless a type documents otherwise.
package audio

import (
	"errors"
	"time"
)

// Telephony wire constants for the inbound and outbound media stream.
const (
	// TelephonySampleRate is the G.711 sample rate used on the call leg.
	TelephonySampleRate = 8000

	// FrameDuration is the duration of one media-stream frame.
	FrameDuration = 20 * time.Millisecond

	// MulawFrameBytes is the size of one 20 ms μ-law frame at 8 kHz.
	MulawFrameBytes = TelephonySampleRate / 1000 * 20

	// PCMFrameBytes is the size of one 20 ms PCM16 frame at 8 kHz.
	PCMFrameBytes = MulawFrameBytes * 2
)

// Conversion errors. Callers treat them as "drop this unit of audio".
var (
	ErrEmptyInput  = errors.New("audio: empty input")
	ErrOddLength   = errors.New("audio: odd byte count for 16-bit PCM")
	ErrInvalidRate = errors.New("audio: invalid sample rate")
)

// PCMDuration returns the playback length of n bytes of PCM16 audio.
func PCMDuration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := n / 2 / channels
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
