package call

import "time"

// Frame is one decoded 20 ms inbound frame with its VAD verdict and energy.
type Frame struct {
	PCM    []byte
	RMS    float64
	Speech bool
	At     time.Time
}
