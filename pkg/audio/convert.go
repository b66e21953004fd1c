package audio

import "fmt"

// Resample converts a complete mono PCM16 utterance from fromRate to toRate
// by linear interpolation, producing len*toRate/fromRate samples. It suits
// whole buffers such as an utterance sent to STT; streams whose chunks must
// join without seams use [StreamResampler].
func Resample(pcm []byte, fromRate, toRate int) ([]byte, error) {
	switch {
	case fromRate <= 0 || toRate <= 0:
		return nil, fmt.Errorf("%w: %d -> %d", ErrInvalidRate, fromRate, toRate)
	case len(pcm) == 0:
		return nil, ErrEmptyInput
	case len(pcm)%2 != 0:
		return nil, ErrOddLength
	case fromRate == toRate:
		return pcm, nil
	}

	n := len(pcm) / 2
	outN := int(int64(n) * int64(toRate) / int64(fromRate))
	out := make([]byte, outN*2)
	step := float64(fromRate) / float64(toRate)
	for i := range outN {
		pos := float64(i) * step
		j := int(pos)
		frac := pos - float64(j)
		a := float64(sampleAt(pcm, j))
		b := a
		if j+1 < n {
			b = float64(sampleAt(pcm, j+1))
		}
		putSample(out, i, int32(a+(b-a)*frac))
	}
	return out, nil
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
}

// putSample writes v, clamped to the int16 range, as sample i.
func putSample(pcm []byte, i int, v int32) {
	s := uint16(clamp16(v))
	pcm[2*i], pcm[2*i+1] = byte(s), byte(s>>8)
}

func clamp16(v int32) int32 {
	return max(-32768, min(32767, v))
}
