package kmdec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// os2MIDI is the header format tag for the OS/2 real-time variant.
const os2MIDI = 0xFFFF

// os2Prefix is the Timing Generation Control SysEx that opens an OS/2
// real-time MIDI stream.
var os2Prefix = []byte{0xF0, 0x00, 0x00, 0x3A, 0x03, 0x01, 0x18}

// header is the parsed file header, immutable after initMIDIInfo.
type header struct {
	format   uint16 // 0, 1, or os2MIDI
	tracks   uint16
	division uint16 // ticks per quarter note
}

// initMIDIInfo recognizes one of the two container formats and builds the
// track table. Standard tracks get their first delta time primed here; the
// OS/2 virtual track primes its timing lazily inside the first decode, so a
// zero-length OS/2 stream is only seen exhausted on the first step.
func (d *Decoder) initMIDIInfo() error {
	var data [14]byte

	if err := d.readFull(data[:10]); err != nil {
		return err
	}

	// Timing Generation Control of OS/2 real-time MIDI data?
	if bytes.Equal(data[:7], os2Prefix) && data[9] == 0xF7 {
		d.header.format = os2MIDI
		d.header.tracks = 1

		// Packed timing byte: fast and slow encodings of the tick rate.
		pp := data[7] & 0x7F
		var division int
		if pp&0x40 != 0 {
			division = 24 / ((int(pp&0x3F) + 1) * 3)
		} else {
			division = 24 * (int(pp) + 1)
		}
		if division == 0 {
			return fmt.Errorf("OS/2 timing resolution below one tick per quarter note: %w",
				ErrUnsupportedFormat)
		}
		d.header.division = uint16(division)

		start, err := d.data.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("stream seek failed: %w", err)
		}
		d.tracks = []track{{
			start:  start,
			length: uint32(d.data.Size() - start),
		}}
		return nil
	}

	if err := d.readFull(data[10:14]); err != nil {
		return err
	}

	if !bytes.Equal(data[:8], []byte("MThd\x00\x00\x00\x06")) {
		return fmt.Errorf("bad file header: %w", ErrMalformedStream)
	}

	d.header.format = binary.BigEndian.Uint16(data[8:10])
	d.header.tracks = binary.BigEndian.Uint16(data[10:12])
	d.header.division = binary.BigEndian.Uint16(data[12:14])

	if d.header.format >= 2 {
		return fmt.Errorf("format %d: %w", d.header.format, ErrUnsupportedFormat)
	}
	if d.header.division>>15&1 == 1 {
		return fmt.Errorf("SMPTE time division: %w", ErrUnsupportedFormat)
	}
	if d.header.division == 0 {
		return fmt.Errorf("zero time division: %w", ErrUnsupportedFormat)
	}

	d.tracks = make([]track, d.header.tracks)
	for i := range d.tracks {
		tr := &d.tracks[i]

		var chunk [8]byte
		if err := d.readFull(chunk[:]); err != nil {
			return err
		}
		if !bytes.Equal(chunk[:4], []byte("MTrk")) {
			return fmt.Errorf("bad track header: %w", ErrMalformedStream)
		}

		start, err := d.data.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("stream seek failed: %w", err)
		}
		tr.start = start
		tr.length = binary.BigEndian.Uint32(chunk[4:8])

		if err := d.decodeDelta(tr); err != nil {
			return err
		}
		if err := d.seekTo(tr.start + int64(tr.length)); err != nil {
			return err
		}
	}
	return nil
}
