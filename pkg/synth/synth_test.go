package synth

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/komh/kmididec/pkg/kmdec"
)

func TestNewMissingSoundFont(t *testing.T) {
	info := kmdec.AudioInfo{SampleRate: 44100, Channels: 2, Format: kmdec.FormatS16}

	_, err := New(filepath.Join(t.TempDir(), "missing.sf2"), info)
	if !errors.Is(err, ErrSoundFontNotFound) {
		t.Fatalf("err = %v, want ErrSoundFontNotFound", err)
	}
}

func TestNewRejectsCorruptSoundFont(t *testing.T) {
	name := filepath.Join(t.TempDir(), "corrupt.sf2")
	if err := os.WriteFile(name, []byte("not a soundfont"), 0o644); err != nil {
		t.Fatal(err)
	}

	info := kmdec.AudioInfo{SampleRate: 44100, Channels: 2, Format: kmdec.FormatS16}
	if _, err := New(name, info); err == nil {
		t.Fatal("New on a corrupt SoundFont succeeded")
	}
}

func TestNewFromSoundFontRejectsBadAudioInfo(t *testing.T) {
	tests := []struct {
		name string
		info kmdec.AudioInfo
	}{
		{"zero rate", kmdec.AudioInfo{SampleRate: 0, Channels: 2, Format: kmdec.FormatS16}},
		{"no channels", kmdec.AudioInfo{SampleRate: 44100, Channels: 0, Format: kmdec.FormatS16}},
		{"bad format", kmdec.AudioInfo{SampleRate: 44100, Channels: 2, Format: kmdec.SampleFormat(7)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFromSoundFont(nil, tt.info); err == nil {
				t.Fatal("NewFromSoundFont succeeded")
			}
		})
	}
}

func TestWriteSamplesS16Stereo(t *testing.T) {
	left := []float32{0, 0.5, -0.5, 1}
	right := []float32{1, -1, 0.25, -0.25}

	dst := make([]byte, len(left)*4)
	writeSamples(dst, left, right, 2, kmdec.FormatS16)

	want := []int16{
		0, 32767,
		16383, -32767,
		-16383, 8191,
		32767, -8191,
	}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(dst[i*2:]))
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}

func TestWriteSamplesS16Clamps(t *testing.T) {
	left := []float32{2.0}
	right := []float32{-3.0}

	dst := make([]byte, 4)
	writeSamples(dst, left, right, 2, kmdec.FormatS16)

	if got := int16(binary.LittleEndian.Uint16(dst)); got != 32767 {
		t.Errorf("left = %d, want 32767", got)
	}
	if got := int16(binary.LittleEndian.Uint16(dst[2:])); got != -32767 {
		t.Errorf("right = %d, want -32767", got)
	}
}

func TestWriteSamplesS16MonoDownmix(t *testing.T) {
	left := []float32{0.5}
	right := []float32{-0.25}

	dst := make([]byte, 2)
	writeSamples(dst, left, right, 1, kmdec.FormatS16)

	// (0.5 - 0.25) / 2 = 0.125
	if got := int16(binary.LittleEndian.Uint16(dst)); got != 4095 {
		t.Errorf("mono sample = %d, want 4095", got)
	}
}

func TestWriteSamplesFloat32Stereo(t *testing.T) {
	left := []float32{0.5, -1.5}
	right := []float32{-0.25, 2.0}

	dst := make([]byte, 16)
	writeSamples(dst, left, right, 2, kmdec.FormatFloat32)

	// Float output is not clamped; the device format carries full range.
	want := []float32{0.5, -0.25, -1.5, 2.0}
	for i, w := range want {
		got := math.Float32frombits(binary.LittleEndian.Uint32(dst[i*4:]))
		if got != w {
			t.Errorf("sample %d = %v, want %v", i, got, w)
		}
	}
}

func TestWriteSamplesFloat32Mono(t *testing.T) {
	left := []float32{0.5}
	right := []float32{0.25}

	dst := make([]byte, 4)
	writeSamples(dst, left, right, 1, kmdec.FormatFloat32)

	if got := math.Float32frombits(binary.LittleEndian.Uint32(dst)); got != 0.375 {
		t.Errorf("mono sample = %v, want 0.375", got)
	}
}
