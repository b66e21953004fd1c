package audio

// G.711 μ-law parameters.
const (
	mulawBias = 0x84
	mulawClip = 32635
)

// mulawTable maps every μ-law byte to its linear sample.
var mulawTable [256]int16

func init() {
	for i := range mulawTable {
		mulawTable[i] = mulawToLinear(byte(i))
	}
}

// DecodeMulaw expands G.711 μ-law bytes into 16-bit little-endian PCM. The
// output is twice the length of the input.
func DecodeMulaw(ulaw []byte) ([]byte, error) {
	if len(ulaw) == 0 {
		return nil, ErrEmptyInput
	}
	out := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		s := mulawTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out, nil
}

// EncodeMulaw compresses 16-bit little-endian PCM into G.711 μ-law bytes.
func EncodeMulaw(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyInput
	}
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		out[i] = linearToMulaw(sampleAt(pcm, i))
	}
	return out, nil
}

func linearToMulaw(s int16) byte {
	v := int(s)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (v >> (exponent + 3)) & 0x0F
	return ^(sign | byte(exponent<<4) | byte(mantissa))
}

func mulawToLinear(u byte) int16 {
	u = ^u
	exponent := int(u>>4) & 0x07
	mantissa := int(u & 0x0F)
	sample := ((mantissa << 3) + mulawBias) << exponent
	sample -= mulawBias
	if u&0x80 != 0 {
		return int16(-sample)
	}
	return int16(sample)
}
