package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/phonoxa/pkg/audio"
)

func TestEncodeWAV(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{1, 2, 3, 4})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("want %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Errorf("missing RIFF/WAVE/data markers: %q", wav[:40])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate: want 16000, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate: want 32000, got %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size: want %d, got %d", len(pcm), got)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Error("payload does not match input PCM")
	}
}

// withListChunk inserts a metadata chunk between "fmt " and "data".
func withListChunk(wav []byte) []byte {
	list := []byte("LIST\x05\x00\x00\x00INFOx\x00")
	out := append([]byte(nil), wav[:36]...)
	out = append(out, list...)
	return append(out, wav[36:]...)
}

func TestDecodeWAV(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{-300, 0, 300, 1200})

	cases := []struct {
		name string
		wav  []byte
	}{
		{"canonical", audio.EncodeWAV(pcm, 22050, 1)},
		{"extra chunk", withListChunk(audio.EncodeWAV(pcm, 22050, 1))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, rate, ch, err := audio.DecodeWAV(tc.wav)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rate != 22050 || ch != 1 {
				t.Errorf("want 22050 Hz mono, got %d Hz %d ch", rate, ch)
			}
			if !bytes.Equal(got, pcm) {
				t.Errorf("want %v, got %v", pcm, got)
			}
		})
	}
}

func TestDecodeWAV_PlaceholderDataSize(t *testing.T) {
	t.Parallel()
	pcm := samplesToBytes([]int16{5, 6, 7})
	wav := audio.EncodeWAV(pcm, 24000, 1)
	binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFFF)

	got, _, _, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("want samples up to end of file, got %v", got)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()
	float := audio.EncodeWAV(samplesToBytes([]int16{1}), 8000, 1)
	binary.LittleEndian.PutUint16(float[20:22], 3)
	eightBit := audio.EncodeWAV(samplesToBytes([]int16{1}), 8000, 1)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)
	noData := audio.EncodeWAV(nil, 8000, 1)[:36]

	cases := []struct {
		name string
		wav  []byte
	}{
		{"empty", nil},
		{"not riff", []byte("OggS\x00\x00\x00\x00WAVEfmt ")},
		{"float samples", float},
		{"8 bit", eightBit},
		{"no data chunk", noData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, _, _, err := audio.DecodeWAV(tc.wav); !errors.Is(err, audio.ErrInvalidWAV) {
				t.Errorf("want ErrInvalidWAV, got %v", err)
			}
		})
	}
}
