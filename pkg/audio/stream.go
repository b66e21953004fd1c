package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// StreamResampler converts a stream of mono PCM16 chunks between sample
// rates with a windowed-sinc filter. Filter state carries across calls to
// Process, so one StreamResampler serves exactly one audio stream. It is not
// safe for concurrent use.
type StreamResampler struct {
	from, to  int
	resampler resampling.Resampler
	carry     []byte
}

// NewStreamResampler returns a resampler from fromRate to toRate.
func NewStreamResampler(fromRate, toRate int) (*StreamResampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, fromRate, toRate)
	}
	r := &StreamResampler{from: fromRate, to: toRate}
	if fromRate == toRate {
		return r, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler %d -> %d: %w", fromRate, toRate, err)
	}
	r.resampler = rs
	return r, nil
}

// Process resamples one chunk. A trailing odd byte is held back and prepended
// to the next chunk. The filter has latency, so early calls may return fewer
// samples than the rate ratio implies.
func (r *StreamResampler) Process(pcm []byte) ([]byte, error) {
	if len(r.carry) > 0 {
		pcm = append(r.carry, pcm...)
		r.carry = nil
	}
	if len(pcm)%2 != 0 {
		r.carry = []byte{pcm[len(pcm)-1]}
		pcm = pcm[:len(pcm)-1]
	}
	if len(pcm) == 0 {
		return nil, nil
	}
	if r.resampler == nil {
		return pcm, nil
	}

	in := make([]float64, len(pcm)/2)
	for i := range in {
		in[i] = float64(sampleAt(pcm, i)) / 32768.0
	}
	out, err := r.resampler.Process(in)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}
	return toPCM16(out), nil
}

// Flush returns the samples still held in the filter. Call it once after the
// last Process; a held odd byte is discarded.
func (r *StreamResampler) Flush() ([]byte, error) {
	r.carry = nil
	if r.resampler == nil {
		return nil, nil
	}
	out, err := r.resampler.Flush()
	if err != nil {
		return nil, fmt.Errorf("audio: flush resampler: %w", err)
	}
	return toPCM16(out), nil
}

// toPCM16 converts normalized float samples back to PCM16, clipping at full
// scale.
func toPCM16(samples []float64) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSample(buf, i, int32(max(-1, min(1, s))*32767))
	}
	return buf
}
