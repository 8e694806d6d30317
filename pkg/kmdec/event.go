package kmdec

import "fmt"

// decodeEvent decodes one event of the standard SMF grammar at the track's
// cursor, dispatches it to the synthesizer, and primes the next delta time.
func (d *Decoder) decodeEvent(tr *track) error {
	if tr.offset >= tr.length {
		return nil
	}

	// Tracks interleave on one stream, so reposition first.
	if err := d.seekTo(tr.start + int64(tr.offset)); err != nil {
		return err
	}

	status, err := d.readByte()
	if err != nil {
		return err
	}
	tr.offset++

	// Implicit status? A data byte here reuses the running status and is
	// itself the first data byte, so step back over it.
	if status < 0x80 {
		status = tr.status
		if err := d.data.UnreadByte(); err != nil {
			return fmt.Errorf("stream seek failed: %w", err)
		}
		tr.offset--
	}

	if status < 0x80 {
		return fmt.Errorf("data byte without running status: %w", ErrMalformedStream)
	}

	if status < 0xF0 {
		tr.status = status
	}

	event := status & 0xF0
	channel := int(status & 0x0F)

	// Length of the event data.
	//   status 0xF2, event 0x80, 0x90, 0xA0, 0xB0, 0xE0: length 2
	//   status 0xF3, event 0xC0, 0xD0: length 1
	//   status 0xF1, 0xF4-0xF6, 0xF8-0xFE: length 0
	var length int
	switch {
	case status == 0xF0 || status == 0xF7:
		if length, err = d.readVarQ(tr); err != nil {
			return err
		}
	case status == 0xFF:
		if err := d.decodeMetaEvent(tr); err != nil {
			return err
		}
	default:
		length = 2
		if status == 0xF3 || event == 0xC0 || event == 0xD0 {
			length = 1
		} else if status == 0xF1 || (status >= 0xF4 && status <= 0xF6) ||
			(status >= 0xF8 && status <= 0xFE) {
			length = 0
		}
	}

	data := make([]byte, length)
	if err := d.readFull(data); err != nil {
		return err
	}
	tr.offset += uint32(length)

	// An F0 SysEx must close with the F7 EOX terminator.
	if status == 0xF0 && (length == 0 || data[length-1] != 0xF7) {
		return fmt.Errorf("SysEx event without EOX terminator: %w", ErrMalformedStream)
	}

	var d0, d1 int
	if length > 0 {
		d0 = int(data[0] & 0x7F)
	}
	if length > 1 {
		d1 = int(data[1] & 0x7F)
	}

	switch event {
	case 0x80:
		d.synth.NoteOff(channel, d0)
	case 0x90:
		d.synth.NoteOn(channel, d0, d1)
	case 0xA0:
		// polyphonic aftertouch is not forwarded
	case 0xB0:
		d.synth.ControlChange(channel, d0, d1)
	case 0xC0:
		d.synth.ProgramChange(channel, d0)
	case 0xD0:
		d.synth.ChannelPressure(channel, d0)
	case 0xE0:
		d.synth.PitchBend(channel, d1<<7|d0)
	case 0xF0:
		// SysEx payloads are validated for framing but never forwarded
	}

	return d.decodeDelta(tr)
}

// Meta-event types with a fixed expected payload length.
const (
	metaSequenceNumber = 0x00
	metaText           = 0x01
	metaCopyright      = 0x02
	metaTrackName      = 0x03
	metaInstrument     = 0x04
	metaLyric          = 0x05
	metaMarker         = 0x06
	metaCuePoint       = 0x07
	metaChannelPrefix  = 0x20
	metaEndOfTrack     = 0x2F
	metaSetTempo       = 0x51
	metaSMPTEOffset    = 0x54
	metaTimeSignature  = 0x58
	metaKeySignature   = 0x59
	metaSequencerData  = 0x7F
)

// decodeMetaEvent consumes one meta-event and applies tempo and time
// signature changes to the decoder state.
func (d *Decoder) decodeMetaEvent(tr *track) error {
	if tr.offset >= tr.length {
		return nil
	}

	typ, err := d.readByte()
	if err != nil {
		return err
	}
	tr.offset++

	length, err := d.readVarQ(tr)
	if err != nil {
		return err
	}

	data := make([]byte, length)
	if err := d.readFull(data); err != nil {
		return err
	}
	tr.offset += uint32(length)

	switch typ {
	case metaSequenceNumber:
		if length != 2 {
			return fmt.Errorf("sequence number of %d bytes: %w", length, ErrMalformedStream)
		}

	case metaText, metaCopyright, metaTrackName, metaInstrument,
		metaLyric, metaMarker, metaCuePoint:
		d.recordMetaText(typ, data)

	case metaChannelPrefix:
		if length != 1 {
			return fmt.Errorf("channel prefix of %d bytes: %w", length, ErrMalformedStream)
		}

	case metaEndOfTrack:
		if length != 0 || tr.offset != tr.length {
			return fmt.Errorf("end of track away from track end: %w", ErrMalformedStream)
		}

	case metaSetTempo:
		if length != 3 {
			return fmt.Errorf("tempo event of %d bytes: %w", length, ErrMalformedStream)
		}
		tempo := uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])
		if tempo == 0 {
			return fmt.Errorf("zero tempo: %w", ErrMalformedStream)
		}
		d.tempo = tempo

	case metaSMPTEOffset:
		if length != 5 {
			return fmt.Errorf("SMPTE offset of %d bytes: %w", length, ErrMalformedStream)
		}

	case metaTimeSignature:
		if length != 4 {
			return fmt.Errorf("time signature of %d bytes: %w", length, ErrMalformedStream)
		}
		d.numerator = data[0]
		d.denominator = 1 << data[1]

	case metaKeySignature:
		if length != 2 {
			return fmt.Errorf("key signature of %d bytes: %w", length, ErrMalformedStream)
		}

	case metaSequencerData:
		// Some shipped MIDI files do not respect the nominal format of
		// type 0x7F, so its length goes unchecked.
	}

	return nil
}
