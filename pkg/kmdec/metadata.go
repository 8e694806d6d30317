package kmdec

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

// Metadata is the text gathered from a file's meta-events during the
// open-time scan: the first track name as the title, the first copyright
// notice, and any free-form text and markers. It is immutable after Open.
type Metadata struct {
	Title     string
	Copyright string
	Text      []string
}

// Metadata returns the text meta-events collected at open time. The OS/2
// grammar has no meta-events, so OS/2 streams yield an empty value.
func (d *Decoder) Metadata() Metadata {
	return d.meta
}

// recordMetaText stores one text meta-event payload. Only the open-time scan
// records so a later seek replay does not duplicate entries.
func (d *Decoder) recordMetaText(typ byte, payload []byte) {
	if !d.scanning {
		return
	}

	text := strings.TrimSpace(decodeMetaText(payload))
	if text == "" {
		return
	}

	switch typ {
	case metaTrackName:
		if d.meta.Title == "" {
			d.meta.Title = text
		}
	case metaCopyright:
		if d.meta.Copyright == "" {
			d.meta.Copyright = text
		}
	case metaText, metaMarker, metaLyric:
		d.meta.Text = append(d.meta.Text, text)
	}
}

// decodeMetaText converts a meta-event text payload to UTF-8. The format
// predates Unicode; payloads that are not valid UTF-8 are assumed to be
// Shift-JIS, the encoding of most surviving non-ASCII MIDI files.
func decodeMetaText(payload []byte) string {
	payload = trimNUL(payload)
	if utf8.Valid(payload) {
		return string(payload)
	}

	converted, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), payload)
	if err != nil {
		return string(payload)
	}
	return string(converted)
}

func trimNUL(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}
