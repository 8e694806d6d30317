package kmdec

// Test doubles and byte-stream builders shared by the decoder tests.

import "encoding/binary"

// synthCall records one dispatch to the mock synthesizer.
type synthCall struct {
	op      string
	channel int
	a, b    int
}

// mockSynth records every dispatched event and renders silence.
type mockSynth struct {
	calls   []synthCall
	samples int64 // total samples rendered
	resets  int
	closes  int
}

func (m *mockSynth) NoteOn(channel, key, velocity int) {
	m.calls = append(m.calls, synthCall{"noteOn", channel, key, velocity})
}

func (m *mockSynth) NoteOff(channel, key int) {
	m.calls = append(m.calls, synthCall{"noteOff", channel, key, 0})
}

func (m *mockSynth) ControlChange(channel, controller, value int) {
	m.calls = append(m.calls, synthCall{"controlChange", channel, controller, value})
}

func (m *mockSynth) ProgramChange(channel, program int) {
	m.calls = append(m.calls, synthCall{"programChange", channel, program, 0})
}

func (m *mockSynth) ChannelPressure(channel, value int) {
	m.calls = append(m.calls, synthCall{"channelPressure", channel, value, 0})
}

func (m *mockSynth) PitchBend(channel, value int) {
	m.calls = append(m.calls, synthCall{"pitchBend", channel, value, 0})
}

func (m *mockSynth) SystemReset() {
	m.resets++
}

func (m *mockSynth) Render(dst []byte, samples int) {
	for i := range dst {
		dst[i] = 0
	}
	m.samples += int64(samples)
}

func (m *mockSynth) Close() error {
	m.closes++
	return nil
}

// countCalls returns how many recorded calls use the given op.
func (m *mockSynth) countCalls(op string) int {
	n := 0
	for _, c := range m.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

// testAudioInfo is the audio format the decoder tests run with: 16-bit
// stereo at 44.1 kHz, the default 10 ms quantum.
func testAudioInfo() AudioInfo {
	return AudioInfo{SampleRate: 44100, Channels: 2, Format: FormatS16}
}

// vq encodes a variable-length quantity.
func vq(v int) []byte {
	out := []byte{byte(v & 0x7F)}
	for v >>= 7; v > 0; v >>= 7 {
		out = append([]byte{byte(v&0x7F) | 0x80}, out...)
	}
	return out
}

// smfTrack frames events (already including their delta times) as one MTrk
// chunk.
func smfTrack(events ...[]byte) []byte {
	var body []byte
	for _, e := range events {
		body = append(body, e...)
	}

	chunk := []byte("MTrk")
	chunk = binary.BigEndian.AppendUint32(chunk, uint32(len(body)))
	return append(chunk, body...)
}

// buildSMF assembles a standard MIDI file from framed tracks.
func buildSMF(format, division uint16, tracks ...[]byte) []byte {
	data := []byte("MThd\x00\x00\x00\x06")
	data = binary.BigEndian.AppendUint16(data, format)
	data = binary.BigEndian.AppendUint16(data, uint16(len(tracks)))
	data = binary.BigEndian.AppendUint16(data, division)

	for _, tr := range tracks {
		data = append(data, tr...)
	}
	return data
}

// event prefixes a delta time onto raw event bytes.
func event(delta int, raw ...byte) []byte {
	return append(vq(delta), raw...)
}

// endOfTrackEvent is the mandatory final meta-event of a track.
func endOfTrackEvent(delta int) []byte {
	return event(delta, 0xFF, 0x2F, 0x00)
}

// buildOS2 assembles an OS/2 real-time stream: the Timing Generation
// Control header with the packed timing byte, then the raw event bytes.
func buildOS2(timing byte, events ...[]byte) []byte {
	data := []byte{0xF0, 0x00, 0x00, 0x3A, 0x03, 0x01, 0x18, timing, 0x00, 0xF7}
	for _, e := range events {
		data = append(data, e...)
	}
	return data
}
