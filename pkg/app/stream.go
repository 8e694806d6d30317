package app

import (
	"io"
	"sync"
	"time"

	"github.com/komh/kmididec/pkg/kmdec"
)

// stream wraps a decoder for the audio device. The device pulls Read from
// its own goroutine while the progress display polls the position, and the
// decoder itself is not safe for concurrent use, so every access goes
// through one mutex.
type stream struct {
	dec *kmdec.Decoder
	err error
	mu  sync.Mutex
}

func newStream(dec *kmdec.Decoder) *stream {
	return &stream{dec: dec}
}

func (s *stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.dec.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
		return n, io.EOF // stop the device, report via Err
	}
	return n, err
}

// Position returns the decoder's current position.
func (s *stream) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dec.Position()
}

// Err returns the first decode error hit during playback, if any.
func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
