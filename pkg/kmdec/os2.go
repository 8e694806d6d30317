package kmdec

import "fmt"

// os2SysExCap is how far an OS/2 device-control SysEx is searched for its EOX
// terminator before the rest of the event is discarded.
const os2SysExCap = 9

// decodeOS2Event decodes one event of the OS/2 real-time grammar. Channel
// voice events share the standard fixed-length dispatch, but timing works
// differently: status 0xF8 advances the clock by one tick directly, and the
// remaining system statuses are SysEx-framed device control events. There is
// no delta time and no meta-event in this grammar.
func (d *Decoder) decodeOS2Event(tr *track) error {
	if tr.offset >= tr.length {
		tr.nextTick = endOfTrack
		return nil
	}

	if err := d.seekTo(tr.start + int64(tr.offset)); err != nil {
		return err
	}

	status, err := d.readByte()
	if err != nil {
		return err
	}
	tr.offset++

	// Implicit status?
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

	var length int
	switch event {
	case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
		length = 2
	case 0xC0, 0xD0:
		length = 1
	}

	data := make([]byte, length)
	if err := d.readFull(data); err != nil {
		return err
	}
	tr.offset += uint32(length)

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
		if status == 0xF8 {
			tr.nextTick++
		} else {
			return d.decodeOS2SysExEvent(tr)
		}
	}

	return nil
}

// decodeOS2SysExEvent consumes one SysEx-framed device control event. The
// EOX terminator is searched within os2SysExCap bytes; past the cap the
// event is discarded byte by byte until a terminator shows up. A recognized
// vendor prefix (00 00 3A) carries timing compression and tempo control
// sub-commands.
func (d *Decoder) decodeOS2SysExEvent(tr *track) error {
	var sysex [os2SysExCap]byte

	n := -1
	for i := 0; i < len(sysex); i++ {
		b, err := d.readByte()
		if err != nil {
			return err
		}
		tr.offset++
		sysex[i] = b
		if b == 0xF7 {
			n = i
			break
		}
	}

	if n < 0 {
		// Unsupported SysEx event, skip to its terminator.
		for {
			b, err := d.readByte()
			if err != nil {
				return err
			}
			tr.offset++
			if b == 0xF7 {
				return nil
			}
		}
	}

	body := sysex[:n]
	if len(body) < 4 || body[0] != 0x00 || body[1] != 0x00 || body[2] != 0x3A {
		return nil
	}

	typ := body[3] & 0x7F
	switch {
	case typ == 1: // Timing Compression (Long)
		if len(body) >= 6 {
			ll := uint32(body[4] & 0x7F)
			mm := uint32(body[5] & 0x7F)
			tr.nextTick += mm<<7 | ll
		}

	case typ >= 7: // Timing Compression (Short)
		tr.nextTick += uint32(typ)

	case typ == 3: // Device Driver Control
		if len(body) >= 7 && body[4] == 2 { // Tempo Control
			tl := int(body[5] & 0x7F)
			tm := int(body[6] & 0x7F)
			bpm10 := tm<<7 | tl
			if bpm10 < 10 {
				return fmt.Errorf("tempo control below 1 BPM: %w", ErrMalformedStream)
			}
			d.tempo = uint32(60 * 1000000 / (bpm10 / 10))
		}
	}

	return nil
}
