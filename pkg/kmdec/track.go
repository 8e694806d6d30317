package kmdec

import (
	"fmt"
	"io"
)

// endOfTrack is the nextTick sentinel for a track with no more events.
const endOfTrack = ^uint32(0)

// track is the per-track parsing state. Tracks are records in the decoder's
// owned slice; shared tempo and clock state live on the Decoder itself, so
// decode methods take the track by pointer alongside the receiver.
type track struct {
	start    int64  // start position of the track body in the stream
	length   uint32 // length of the track body in bytes
	offset   uint32 // current offset relative to start
	nextTick uint32 // tick of the next scheduled event, or endOfTrack
	status   byte   // running status byte
}

// seekTo positions the in-memory stream, rejecting positions outside the
// slurped data. A track length field pointing past the end of the file is
// caught here.
func (d *Decoder) seekTo(pos int64) error {
	if pos < 0 || pos > d.data.Size() {
		return fmt.Errorf("seek to %d outside stream of %d bytes: %w",
			pos, d.data.Size(), ErrMalformedStream)
	}
	if _, err := d.data.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("stream seek failed: %w", err)
	}
	return nil
}

func (d *Decoder) readByte() (byte, error) {
	b, err := d.data.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("unexpected end of stream: %w", ErrMalformedStream)
	}
	return b, nil
}

func (d *Decoder) readFull(p []byte) error {
	if _, err := io.ReadFull(d.data, p); err != nil {
		return fmt.Errorf("unexpected end of stream: %w", ErrMalformedStream)
	}
	return nil
}

// readVarQ decodes one variable-length quantity: big-endian base-128, the top
// bit of each byte marking continuation. At most 4 bytes are consumed; a
// quantity that has not terminated by then is malformed. The track cursor
// advances by the number of bytes consumed.
func (d *Decoder) readVarQ(tr *track) (int, error) {
	v := 0
	for count := 0; ; count++ {
		if count >= 4 {
			return 0, fmt.Errorf("variable quantity longer than 4 bytes: %w",
				ErrMalformedStream)
		}
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		tr.offset++
		v = v<<7 | int(b&0x7F)
		if b&0x80 == 0 {
			return v, nil
		}
	}
}

// decodeDelta reads the next delta time and accumulates it into the track's
// nextTick. A track whose cursor has reached its end is marked exhausted
// instead.
func (d *Decoder) decodeDelta(tr *track) error {
	if tr.offset >= tr.length {
		tr.nextTick = endOfTrack
		return nil
	}
	delta, err := d.readVarQ(tr)
	if err != nil {
		return err
	}
	tr.nextTick += uint32(delta)
	return nil
}
