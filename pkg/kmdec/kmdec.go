// Package kmdec decodes Standard MIDI Files (format 0 and 1) and the OS/2
// real-time MIDI stream variant into PCM audio through a pluggable software
// synthesizer. The decoder reconstructs the event timeline from all tracks,
// tracks tempo and time signature, and paces synthesis so that ticks map to
// sample-accurate wall-clock positions. A Decoder is an io.Reader over the
// rendered PCM stream and supports millisecond seeking by forward replay.
//
// A Decoder is single-owner and not safe for concurrent use; callers mixing
// playback and seeking must serialize access themselves.
package kmdec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/komh/kmididec/pkg/kmio"
	"github.com/komh/kmididec/pkg/logger"
)

// SampleFormat selects the PCM sample encoding of the rendered stream.
type SampleFormat int

const (
	// FormatS16 is 16-bit signed little-endian integer PCM.
	FormatS16 SampleFormat = iota
	// FormatFloat32 is 32-bit little-endian floating point PCM.
	FormatFloat32
)

// BytesPerSample returns the size of one sample of the format in bytes.
func (f SampleFormat) BytesPerSample() int {
	if f == FormatFloat32 {
		return 4
	}
	return 2
}

func (f SampleFormat) String() string {
	switch f {
	case FormatS16:
		return "s16"
	case FormatFloat32:
		return "float32"
	}
	return fmt.Sprintf("SampleFormat(%d)", int(f))
}

// AudioInfo describes the PCM stream the decoder produces.
type AudioInfo struct {
	SampleRate int          // samples per second
	Channels   int          // 1 or 2
	Format     SampleFormat // sample encoding

	// ClockUnit is the scheduling quantum: the longest stretch of musical
	// time rendered in one synthesis call. Zero selects the 10 ms default.
	ClockUnit time.Duration
}

// Synthesizer is the external synthesis capability the decoder drives. It is
// a single-owner resource: a Decoder that opened successfully owns its
// synthesizer and releases it on Close.
type Synthesizer interface {
	NoteOn(channel, key, velocity int)
	NoteOff(channel, key int)
	ControlChange(channel, controller, value int)
	ProgramChange(channel, program int)
	ChannelPressure(channel, value int)
	PitchBend(channel, value int) // value is the reassembled 14-bit bend
	SystemReset()

	// Render fills dst with the given number of interleaved samples in the
	// format fixed at configuration time. len(dst) is samples times the
	// frame size.
	Render(dst []byte, samples int)

	Close() error
}

// Default tempo and time signature, in effect until a file changes them.
const (
	defaultTempo       = 500000 // us per quarter note, 120 BPM
	defaultNumerator   = 4
	defaultDenominator = 4
)

// clockBase is the microsecond clock rate.
const clockBase = 1000000

// defaultClockUnit is the scheduling quantum used when AudioInfo leaves it
// unset.
const defaultClockUnit = 10 * time.Millisecond

// decode modes: a seek step runs the timeline without touching the
// synthesizer, a play step renders samples as the clock advances.
const (
	decodeSeek = iota
	decodePlay
)

// Decoder decodes one MIDI file into PCM. Create with Open or OpenSource,
// release with Close.
type Decoder struct {
	src      kmio.Source
	closeSrc bool
	data     *bytes.Reader // whole stream slurped at open

	header header
	tracks []track

	synth      Synthesizer
	sampleRate int
	sampleSize int   // bytes per frame
	clockUnit  int64 // us per scheduling quantum

	tempo       uint32 // us per quarter note
	numerator   uint8
	denominator uint8

	tick     uint32
	clock    uint64 // us since the start of the timeline
	duration uint64 // us, fixed by the open-time pre-scan

	buf    []byte
	bufPos int
	bufLen int

	meta     Metadata
	scanning bool // open-time pre-scan: collect metadata, fail hard
	closed   bool

	log *slog.Logger
}

// Open opens the named MIDI file and binds it to the synthesizer. The whole
// timeline is scanned once to establish the duration, then the decoder is
// reset to the start. On failure nothing is retained and the synthesizer is
// returned to the caller unclosed.
func Open(name string, s Synthesizer, info AudioInfo) (*Decoder, error) {
	src, err := kmio.OpenFile(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	dec, err := open(src, true, s, info)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return dec, nil
}

// OpenSource is Open over a caller-supplied byte source. The source is read
// to its end immediately; it is not closed by the decoder, on failure or on
// Close.
func OpenSource(src kmio.Source, s Synthesizer, info AudioInfo) (*Decoder, error) {
	dec, err := open(src, false, s, info)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	return dec, nil
}

func open(src kmio.Source, closeSrc bool, s Synthesizer, info AudioInfo) (*Decoder, error) {
	if s == nil {
		return nil, errors.New("nil synthesizer")
	}
	if info.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate %d: %w", info.SampleRate, ErrUnsupportedFormat)
	}
	if info.Channels != 1 && info.Channels != 2 {
		return nil, fmt.Errorf("%d channels: %w", info.Channels, ErrUnsupportedFormat)
	}
	if info.Format != FormatS16 && info.Format != FormatFloat32 {
		return nil, fmt.Errorf("%v: %w", info.Format, ErrUnsupportedFormat)
	}

	data, err := kmio.ReadAll(src)
	if err != nil {
		return nil, err
	}

	clockUnit := info.ClockUnit
	if clockUnit <= 0 {
		clockUnit = defaultClockUnit
	}

	d := &Decoder{
		src:        src,
		closeSrc:   closeSrc,
		data:       bytes.NewReader(data),
		synth:      s,
		sampleRate: info.SampleRate,
		sampleSize: info.Channels * info.Format.BytesPerSample(),
		clockUnit:  clockUnit.Microseconds(),

		tempo:       defaultTempo,
		numerator:   defaultNumerator,
		denominator: defaultDenominator,

		log: logger.GetLogger(),
	}

	if err := d.initMIDIInfo(); err != nil {
		return nil, err
	}

	// Dry-run over the whole timeline to establish the duration. No
	// synthesis happens; the tick and clock accounting is identical to
	// playback.
	d.scanning = true
	for {
		if err := d.step(decodeSeek); err != nil {
			if errors.Is(err, ErrEndOfStream) {
				break
			}
			return nil, err
		}
	}
	d.scanning = false
	d.duration = d.clock

	if err := d.reset(); err != nil {
		return nil, err
	}

	return d, nil
}

// reset rewinds the decoder to the initial position: every track back to its
// start with running status cleared, tempo and time signature to their
// defaults, clock to zero, synthesizer to a neutral state. Standard tracks
// re-prime their first delta time here.
func (d *Decoder) reset() error {
	for i := range d.tracks {
		tr := &d.tracks[i]

		tr.offset = 0
		tr.nextTick = 0

		if err := d.seekTo(tr.start); err != nil {
			return err
		}
		if d.header.format != os2MIDI {
			if err := d.decodeDelta(tr); err != nil {
				return err
			}
		}

		tr.status = 0
	}

	d.synth.SystemReset()

	d.tempo = defaultTempo
	d.numerator = defaultNumerator
	d.denominator = defaultDenominator

	d.tick = 0
	d.clock = 0

	d.bufLen = 0
	d.bufPos = 0

	return nil
}

// step runs one tick slice of the scheduler: decode every track that is due,
// then advance the clock toward the earliest upcoming event, rendering the
// matching number of samples in play mode. Returns ErrEndOfStream once every
// track is exhausted.
func (d *Decoder) step(mode int) error {
	next := endOfTrack

	for i := range d.tracks {
		tr := &d.tracks[i]

		if tr.nextTick <= d.tick {
			var err error
			if d.header.format == os2MIDI {
				err = d.decodeOS2Event(tr)
			} else {
				err = d.decodeEvent(tr)
			}
			if err != nil {
				if d.scanning || !errors.Is(err, ErrMalformedStream) {
					return err
				}
				// Damaged mid-stream after a clean pre-scan. Freeze this
				// track and let the others play on.
				d.log.Warn("freezing damaged MIDI track", "track", i, "error", err)
				tr.nextTick = endOfTrack
			}
		}

		if next > tr.nextTick {
			next = tr.nextTick
		}
	}

	if next == endOfTrack {
		return ErrEndOfStream
	}

	if next > d.tick {
		ticksPerSec := int64(d.header.division) * clockBase / int64(d.tempo)
		if ticksPerSec < 1 {
			ticksPerSec = 1
		}

		// The quantum must advance at least one tick, or playback stalls
		// under extreme tempo, and must not overshoot the next event.
		delta := uint32(ticksPerSec * d.clockUnit / clockBase)
		if delta == 0 {
			delta = 1
		}
		if d.tick+delta > next {
			delta = next - d.tick
		}

		if mode == decodePlay {
			samples := int(int64(delta) * int64(d.sampleRate) / ticksPerSec)
			n := samples * d.sampleSize
			if cap(d.buf) < n {
				d.buf = make([]byte, n)
			}
			d.synth.Render(d.buf[:n], samples)
			d.bufLen = n
			d.bufPos = 0
		}

		d.tick += delta
		d.clock += clockBase * uint64(delta) / uint64(ticksPerSec)
	}

	return nil
}

// Read fills p with rendered PCM, running the scheduler whenever the
// internal sample buffer drains. The end of the timeline shows up as a short
// read followed by io.EOF; it is not an error.
func (d *Decoder) Read(p []byte) (int, error) {
	if d.closed {
		return 0, io.EOF
	}

	total := 0
	for total < len(p) {
		if d.bufLen == 0 {
			if err := d.step(decodePlay); err != nil {
				if errors.Is(err, ErrEndOfStream) {
					break
				}
				return total, err
			}
			continue
		}

		n := copy(p[total:], d.buf[d.bufPos:d.bufPos+d.bufLen])
		total += n
		d.bufPos += n
		d.bufLen -= n
	}

	if total == 0 {
		return 0, io.EOF
	}
	return total, nil
}

// Duration returns the total length of the file, truncated to milliseconds.
// It is computed once at open time and never changes.
func (d *Decoder) Duration() time.Duration {
	return time.Duration(d.duration/1000) * time.Millisecond
}

// Position returns the current playback position, truncated to milliseconds.
func (d *Decoder) Position() time.Duration {
	return time.Duration(d.clock/1000) * time.Millisecond
}

// Seek moves the playback position by offset relative to whence
// (io.SeekStart, io.SeekCurrent or io.SeekEnd). Targets before the start
// clamp to zero and targets past the end clamp to the duration. A backward
// seek resets the decoder and replays forward without synthesis, since the
// format permits no backward random access.
func (d *Decoder) Seek(offset time.Duration, whence int) error {
	if d.closed {
		return errors.New("seek on closed decoder")
	}

	var origin uint64
	switch whence {
	case io.SeekStart:
		origin = 0
	case io.SeekCurrent:
		origin = d.clock
	case io.SeekEnd:
		origin = d.duration
	default:
		return fmt.Errorf("invalid seek origin %d", whence)
	}

	target := int64(origin) + offset.Microseconds()
	if target < 0 {
		target = 0
	}
	if uint64(target) > d.duration {
		target = int64(d.duration)
	}

	if uint64(target) < d.clock {
		if err := d.reset(); err != nil {
			return err
		}
	}

	for d.clock < uint64(target) {
		if err := d.step(decodeSeek); err != nil {
			if errors.Is(err, ErrEndOfStream) {
				break
			}
			return err
		}
	}

	if d.clock >= uint64(target) {
		return nil
	}
	return ErrSeekOutOfRange
}

// Close releases the synthesizer, the track table, and the byte source, in
// that order. It is idempotent and safe on a nil decoder.
func (d *Decoder) Close() error {
	if d == nil || d.closed {
		return nil
	}
	d.closed = true

	var firstErr error
	if d.synth != nil {
		firstErr = d.synth.Close()
		d.synth = nil
	}

	d.tracks = nil
	d.buf = nil
	d.bufLen = 0
	d.bufPos = 0

	if d.closeSrc && d.src != nil {
		if err := d.src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.src = nil
	d.data = nil

	return firstErr
}
