// Package source provides the random-access byte sources a Matroska session
// reads from: local files, in-memory buffers and HTTP resources served with
// byte-range support by the streaming backend.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ErrClosed is returned by reads on a closed source.
var ErrClosed = errors.New("source: closed")

// Source is a sized, random-access byte resource.
type Source interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// Open resolves location to a Source. http and https URLs are read with
// range requests; everything else is treated as a local path.
func Open(ctx context.Context, location string, opts ...HTTPOption) (Source, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return NewHTTP(ctx, location, opts...)
	}
	return OpenFile(location)
}

// File is a Source backed by an *os.File.
type File struct {
	f    *os.File
	size int64
}

// OpenFile opens path for reading.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("source: stat %s: %w", path, err)
	}
	return &File{f: f, size: st.Size()}, nil
}

func (s *File) ReadAt(p []byte, off int64) (int, error) { return s.f.ReadAt(p, off) }
func (s *File) Size() int64                              { return s.size }

// Close closes the file. Calling it more than once is harmless.
func (s *File) Close() error {
	if err := s.f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}

// Memory is a Source over a byte slice.
type Memory struct {
	r      *bytes.Reader
	closed bool
}

// NewMemory wraps b. The slice must not be modified afterwards.
func NewMemory(b []byte) *Memory {
	return &Memory{r: bytes.NewReader(b)}
}

func (m *Memory) ReadAt(p []byte, off int64) (int, error) {
	if m.closed {
		return 0, ErrClosed
	}
	return m.r.ReadAt(p, off)
}

func (m *Memory) Size() int64 { return m.r.Size() }

func (m *Memory) Close() error {
	m.closed = true
	return nil
}

func defaultLogger(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}
