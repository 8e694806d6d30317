package kmdec

import "errors"

var (
	// ErrMalformedStream is returned for structural violations of the binary
	// format: bad magic, corrupt lengths, truncated variable quantities,
	// unterminated SysEx events.
	ErrMalformedStream = errors.New("malformed MIDI stream")

	// ErrUnsupportedFormat is returned for well-formed files outside the
	// decoder's scope: format 2 and above, SMPTE time division, zero timing
	// resolution.
	ErrUnsupportedFormat = errors.New("unsupported MIDI format")

	// ErrEndOfStream marks the normal terminal condition of the timeline:
	// every track has run out of events. Read reports it as io.EOF.
	ErrEndOfStream = errors.New("end of MIDI stream")

	// ErrSeekOutOfRange is returned when forward replay cannot reach a seek
	// target. With the duration established at open time this should not
	// happen for in-range targets.
	ErrSeekOutOfRange = errors.New("seek target out of range")
)
