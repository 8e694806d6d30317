// Package synth implements the decoder's Synthesizer capability with
// go-meltysynth, a pure Go SoundFont synthesizer. One Synth renders the
// event stream of one decoder into interleaved PCM at a fixed sample rate,
// channel count and sample format.
package synth

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/sinshu/go-meltysynth/meltysynth"

	"github.com/komh/kmididec/pkg/kmdec"
)

// ErrSoundFontNotFound is returned when the SoundFont file cannot be found.
var ErrSoundFontNotFound = errors.New("SoundFont file not found")

// Synth drives a meltysynth synthesizer and converts its stereo float
// output to the configured PCM format. It implements kmdec.Synthesizer.
type Synth struct {
	synth *meltysynth.Synthesizer
	info  kmdec.AudioInfo

	left  []float32
	right []float32
}

// New loads the SoundFont at the given path and creates a synthesizer
// configured for the given audio format.
func New(soundFontPath string, info kmdec.AudioInfo) (*Synth, error) {
	sf2Data, err := os.ReadFile(soundFontPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSoundFontNotFound, soundFontPath)
		}
		return nil, fmt.Errorf("failed to read SoundFont file: %w", err)
	}

	soundFont, err := meltysynth.NewSoundFont(bytes.NewReader(sf2Data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse SoundFont: %w", err)
	}

	return NewFromSoundFont(soundFont, info)
}

// NewFromSoundFont creates a synthesizer over an already parsed SoundFont.
// Useful when one SoundFont serves several decoders in turn.
func NewFromSoundFont(soundFont *meltysynth.SoundFont, info kmdec.AudioInfo) (*Synth, error) {
	if info.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", info.SampleRate)
	}
	if info.Channels != 1 && info.Channels != 2 {
		return nil, fmt.Errorf("invalid channel count %d", info.Channels)
	}
	if info.Format != kmdec.FormatS16 && info.Format != kmdec.FormatFloat32 {
		return nil, fmt.Errorf("invalid sample format %v", info.Format)
	}

	settings := meltysynth.NewSynthesizerSettings(int32(info.SampleRate))
	ms, err := meltysynth.NewSynthesizer(soundFont, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesizer: %w", err)
	}

	return &Synth{synth: ms, info: info}, nil
}

func (s *Synth) NoteOn(channel, key, velocity int) {
	s.synth.NoteOn(int32(channel), int32(key), int32(velocity))
}

func (s *Synth) NoteOff(channel, key int) {
	s.synth.NoteOff(int32(channel), int32(key))
}

func (s *Synth) ControlChange(channel, controller, value int) {
	s.synth.ProcessMidiMessage(int32(channel), 0xB0, int32(controller), int32(value))
}

func (s *Synth) ProgramChange(channel, program int) {
	s.synth.ProcessMidiMessage(int32(channel), 0xC0, int32(program), 0)
}

func (s *Synth) ChannelPressure(channel, value int) {
	s.synth.ProcessMidiMessage(int32(channel), 0xD0, int32(value), 0)
}

// PitchBend takes the reassembled 14-bit bend value and splits it back into
// the two 7-bit data bytes the MIDI message carries.
func (s *Synth) PitchBend(channel, value int) {
	s.synth.ProcessMidiMessage(int32(channel), 0xE0, int32(value&0x7F), int32(value>>7))
}

// SystemReset silences all voices and returns every controller to its
// default.
func (s *Synth) SystemReset() {
	s.synth.Reset()
}

// Render fills dst with the next samples of interleaved PCM in the
// configured format. len(dst) must be samples times the frame size.
func (s *Synth) Render(dst []byte, samples int) {
	if cap(s.left) < samples {
		s.left = make([]float32, samples)
		s.right = make([]float32, samples)
	}
	left := s.left[:samples]
	right := s.right[:samples]

	s.synth.Render(left, right)
	writeSamples(dst, left, right, s.info.Channels, s.info.Format)
}

// Close releases the synthesizer. The decoder calls it exactly once when it
// is closed.
func (s *Synth) Close() error {
	s.synth = nil
	return nil
}

// writeSamples interleaves the stereo float render into dst, downmixing to
// mono when a single channel is configured.
func writeSamples(dst []byte, left, right []float32, channels int, format kmdec.SampleFormat) {
	frame := channels * format.BytesPerSample()

	for i := range left {
		out := dst[i*frame:]

		switch format {
		case kmdec.FormatS16:
			if channels == 1 {
				putS16(out, (left[i]+right[i])/2)
			} else {
				putS16(out, left[i])
				putS16(out[2:], right[i])
			}
		case kmdec.FormatFloat32:
			if channels == 1 {
				putF32(out, (left[i]+right[i])/2)
			} else {
				putF32(out, left[i])
				putF32(out[4:], right[i])
			}
		}
	}
}

func putS16(dst []byte, v float32) {
	binary.LittleEndian.PutUint16(dst, uint16(int16(clamp(v, -1, 1)*32767)))
}

func putF32(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

// clamp restricts a value to the range [min, max].
func clamp(v, min, max float32) float32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
