package kmdec

import (
	"errors"
	"io"
	"testing"
	"time"
)

// OS/2 real-time streams carry no delta times: 0xF8 advances the clock by
// one tick and vendor SysEx events compress longer stretches. The tests run
// with the 0x03 timing byte, 96 ticks per quarter note, so tick accounting
// matches the standard-format tests.

func TestOS2EmptyStream(t *testing.T) {
	dec, _, err := openBytes(t, buildOS2(0x03))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if dec.Duration() != 0 {
		t.Errorf("Duration = %v, want 0", dec.Duration())
	}

	var p [64]byte
	if n, err := dec.Read(p[:]); n != 0 || err != io.EOF {
		t.Errorf("Read = (%d, %v), want (0, io.EOF)", n, err)
	}
}

func TestOS2TickEvents(t *testing.T) {
	events := [][]byte{{0x90, 0x3C, 0x64}}
	for i := 0; i < 96; i++ {
		events = append(events, []byte{0xF8})
	}
	events = append(events, []byte{0x80, 0x3C, 0x40})

	dec, synth, err := openBytes(t, buildOS2(0x03, events...))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if got, want := dec.Duration(), 499*time.Millisecond; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}

	synth.calls = nil
	pcm, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	if got, want := len(pcm), 96*229*4; got != want {
		t.Errorf("rendered %d bytes, want %d", got, want)
	}

	want := []synthCall{
		{"noteOn", 0, 0x3C, 0x64},
		{"noteOff", 0, 0x3C, 0},
	}
	if len(synth.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", synth.calls, want)
	}
	for i, c := range want {
		if synth.calls[i] != c {
			t.Errorf("call %d = %v, want %v", i, synth.calls[i], c)
		}
	}
}

func TestOS2RunningStatusSurvivesTicks(t *testing.T) {
	dec, synth, err := openBytes(t, buildOS2(0x03,
		[]byte{0x90, 0x3C, 0x64},
		[]byte{0xF8},
		[]byte{0x3E, 0x64}, // running status note on
		[]byte{0xF8},
	))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	synth.calls = nil
	if _, err := io.ReadAll(dec); err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	if got := synth.countCalls("noteOn"); got != 2 {
		t.Errorf("noteOn count = %d, want 2", got)
	}
}

func TestOS2TimingCompressionLong(t *testing.T) {
	// mm<<7 | ll = 1<<7 | 0x20 = 160 ticks.
	dec, _, err := openBytes(t, buildOS2(0x03,
		[]byte{0xF0, 0x00, 0x00, 0x3A, 0x01, 0x20, 0x01, 0xF7},
	))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if got, want := dec.Duration(), 833*time.Millisecond; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}
}

func TestOS2TimingCompressionShort(t *testing.T) {
	tests := []struct {
		typ  byte
		want time.Duration
	}{
		{0x07, 36 * time.Millisecond},
		{0x0A, 52 * time.Millisecond},
	}

	for _, tt := range tests {
		dec, _, err := openBytes(t, buildOS2(0x03,
			[]byte{0xF0, 0x00, 0x00, 0x3A, tt.typ, 0xF7},
		))
		if err != nil {
			t.Fatalf("Open(typ %#x) failed: %v", tt.typ, err)
		}
		if got := dec.Duration(); got != tt.want {
			t.Errorf("typ %#x: Duration = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestOS2TempoControl(t *testing.T) {
	// 240 BPM in tenths: 2400 = 0x12<<7 | 0x60. Doubled tempo halves the
	// 96-tick duration relative to the default 120 BPM.
	events := [][]byte{{0xF0, 0x00, 0x00, 0x3A, 0x03, 0x02, 0x60, 0x12, 0xF7}}
	for i := 0; i < 96; i++ {
		events = append(events, []byte{0xF8})
	}

	dec, _, err := openBytes(t, buildOS2(0x03, events...))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got, want := dec.Duration(), 249*time.Millisecond; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}

	// The reset after the pre-scan restores the default tempo; replaying
	// applies the control again.
	if _, err := io.ReadAll(dec); err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if dec.tempo != 250000 {
		t.Errorf("tempo = %d, want 250000", dec.tempo)
	}
}

func TestOS2TempoControlBelowOneBPM(t *testing.T) {
	_, _, err := openBytes(t, buildOS2(0x03,
		[]byte{0xF0, 0x00, 0x00, 0x3A, 0x03, 0x02, 0x09, 0x00, 0xF7},
	))
	if !errors.Is(err, ErrMalformedStream) {
		t.Fatalf("err = %v, want ErrMalformedStream", err)
	}
}

func TestOS2ForeignSysExIgnored(t *testing.T) {
	// A universal SysEx inside the search window is recognized as framing
	// and dropped without touching the clock.
	dec, synth, err := openBytes(t, buildOS2(0x03,
		[]byte{0xF0, 0x7E, 0x00, 0x09, 0x01, 0xF7},
		[]byte{0xF8},
		[]byte{0x90, 0x3C, 0x64},
	))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	synth.calls = nil
	if _, err := io.ReadAll(dec); err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if got := synth.countCalls("noteOn"); got != 1 {
		t.Errorf("noteOn count = %d, want 1", got)
	}
}

func TestOS2OversizedSysExDiscarded(t *testing.T) {
	// Twelve payload bytes overflow the search window; the event is skipped
	// to its terminator and decoding continues.
	long := []byte{0xF0}
	for i := 0; i < 12; i++ {
		long = append(long, 0x01)
	}
	long = append(long, 0xF7)

	dec, synth, err := openBytes(t, buildOS2(0x03,
		long,
		[]byte{0xF8},
		[]byte{0x90, 0x3C, 0x64},
	))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if got, want := dec.Duration(), 5*time.Millisecond; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}

	synth.calls = nil
	if _, err := io.ReadAll(dec); err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if got := synth.countCalls("noteOn"); got != 1 {
		t.Errorf("noteOn count = %d, want 1", got)
	}
}

func TestOS2UnterminatedSysEx(t *testing.T) {
	_, _, err := openBytes(t, buildOS2(0x03,
		[]byte{0xF0, 0x01, 0x02, 0x03},
	))
	if !errors.Is(err, ErrMalformedStream) {
		t.Fatalf("err = %v, want ErrMalformedStream", err)
	}
}
