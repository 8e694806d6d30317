// Package kmio provides pluggable byte stream access for the MIDI decoder.
// A Source is any seekable, closable byte stream; the decoder slurps it into
// memory once at open time and parses from there, so a Source only needs to
// support a single forward read pass plus POSIX-style seeking.
package kmio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Source is the byte stream the decoder reads a MIDI file from.
// Seek uses the standard io.SeekStart/SeekCurrent/SeekEnd origins.
type Source interface {
	io.Reader
	io.Seeker
	io.Closer
}

// ErrNotSupported is returned by FuncSource methods whose function field is nil.
var ErrNotSupported = errors.New("operation not supported by source")

// OpenFile opens a file-backed Source.
func OpenFile(name string) (Source, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open MIDI file: %w", err)
	}
	return f, nil
}

// MemSource is an in-memory Source over a byte slice.
type MemSource struct {
	r *bytes.Reader
}

// NewMemSource creates a Source reading from data.
func NewMemSource(data []byte) *MemSource {
	return &MemSource{r: bytes.NewReader(data)}
}

func (m *MemSource) Read(p []byte) (int, error) {
	return m.r.Read(p)
}

func (m *MemSource) Seek(offset int64, whence int) (int64, error) {
	return m.r.Seek(offset, whence)
}

// Close is a no-op; the backing slice is owned by the caller.
func (m *MemSource) Close() error {
	return nil
}

// FuncSource adapts a table of callbacks into a Source. It mirrors custom
// backends that supply their own read/seek/close routines instead of a file
// descriptor. Nil callbacks make the corresponding method fail with
// ErrNotSupported.
type FuncSource struct {
	ReadFunc  func(p []byte) (int, error)
	SeekFunc  func(offset int64, whence int) (int64, error)
	CloseFunc func() error
}

func (f *FuncSource) Read(p []byte) (int, error) {
	if f.ReadFunc == nil {
		return 0, ErrNotSupported
	}
	return f.ReadFunc(p)
}

func (f *FuncSource) Seek(offset int64, whence int) (int64, error) {
	if f.SeekFunc == nil {
		return 0, ErrNotSupported
	}
	return f.SeekFunc(offset, whence)
}

func (f *FuncSource) Close() error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc()
}

// Tell reports the current position of a Source.
func Tell(src io.Seeker) (int64, error) {
	return src.Seek(0, io.SeekCurrent)
}

// readChunk is the slurp granularity of ReadAll.
const readChunk = 64 * 1024

// ReadAll reads a Source to its end and returns the contents. Reading is
// chunked so sources that cannot report their size up front still work.
func ReadAll(src Source) ([]byte, error) {
	var data []byte
	buf := make([]byte, readChunk)
	for {
		n, err := src.Read(buf)
		data = append(data, buf[:n]...)
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read source: %w", err)
		}
		if n == 0 {
			return data, nil
		}
	}
}
