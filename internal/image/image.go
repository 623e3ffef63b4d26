// Package image opens disk images for copying. An image may be a raw file
// or a compressed file recognized by extension; compressed images stream
// through a decoder and cannot report their size up front.
package image

import (
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Source is an opened image: readable, seekable, with an optional size
// probe. Size reports false when the image streams through a decompressor
// and its length cannot be known before it has been read in full.
type Source interface {
	io.ReadSeeker
	io.Closer
	Size() (int64, bool)
}

// Open opens the image at path. Compression is recognized by extension:
// .gz, .zst and .bz2 are decompressed transparently, anything else is
// treated as a raw image.
func Open(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat image %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("image %s is not a regular file", path)
	}

	switch {
	case strings.HasSuffix(path, ".gz"):
		return newStream(f, func(r io.Reader) (io.Reader, error) {
			return gzip.NewReader(r)
		})
	case strings.HasSuffix(path, ".zst"):
		return newStream(f, func(r io.Reader) (io.Reader, error) {
			return zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		})
	case strings.HasSuffix(path, ".bz2"):
		return newStream(f, func(r io.Reader) (io.Reader, error) {
			return bzip2.NewReader(r), nil
		})
	default:
		return &file{f: f, size: info.Size()}, nil
	}
}

// NewFile wraps an already-open raw image of a known size. The caller keeps
// ownership of rs; Close is a no-op.
func NewFile(rs io.ReadSeeker, size int64) Source {
	return &borrowed{rs: rs, size: size}
}

// file is an uncompressed image backed directly by an *os.File.
type file struct {
	f    *os.File
	size int64
}

func (s *file) Read(p []byte) (int, error)                { return s.f.Read(p) }
func (s *file) Seek(off int64, whence int) (int64, error) { return s.f.Seek(off, whence) }
func (s *file) Close() error                              { return s.f.Close() }
func (s *file) Size() (int64, bool)                       { return s.size, true }

type borrowed struct {
	rs   io.ReadSeeker
	size int64
}

func (s *borrowed) Read(p []byte) (int, error)                { return s.rs.Read(p) }
func (s *borrowed) Seek(off int64, whence int) (int64, error) { return s.rs.Seek(off, whence) }
func (s *borrowed) Close() error                              { return nil }
func (s *borrowed) Size() (int64, bool)                       { return s.size, true }

// stream is a compressed image. It decompresses on the fly and emulates
// seeking: forward seeks discard decompressed bytes, rewinds reset the
// decoder and replay from the start of the compressed file.
type stream struct {
	f    *os.File
	open func(io.Reader) (io.Reader, error)
	r    io.Reader
	pos  int64
}

func newStream(f *os.File, open func(io.Reader) (io.Reader, error)) (*stream, error) {
	r, err := open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open decompressor for %s: %w", f.Name(), err)
	}
	return &stream{f: f, open: open, r: r}, nil
}

func (s *stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.pos += int64(n)
	return n, err
}

func (s *stream) Size() (int64, bool) { return 0, false }

// Seek supports SeekStart and SeekCurrent targets. Rewinding restarts
// decompression from the beginning, so it is cheap to request but pays the
// full decode cost again.
func (s *stream) Seek(off int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = off
	case io.SeekCurrent:
		target = s.pos + off
	default:
		return 0, fmt.Errorf("seek in compressed image %s: whence %d not supported", s.f.Name(), whence)
	}
	if target < 0 {
		return 0, fmt.Errorf("seek in compressed image %s: negative position %d", s.f.Name(), target)
	}

	if target < s.pos {
		if err := s.rewind(); err != nil {
			return 0, err
		}
	}
	if target > s.pos {
		if _, err := io.CopyN(io.Discard, s, target-s.pos); err != nil {
			return 0, fmt.Errorf("seek forward in compressed image %s: %w", s.f.Name(), err)
		}
	}
	return s.pos, nil
}

func (s *stream) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind compressed image %s: %w", s.f.Name(), err)
	}
	closeDecoder(s.r)
	r, err := s.open(s.f)
	if err != nil {
		return fmt.Errorf("reset decompressor for %s: %w", s.f.Name(), err)
	}
	s.r = r
	s.pos = 0
	return nil
}

func (s *stream) Close() error {
	closeDecoder(s.r)
	return s.f.Close()
}

// closeDecoder releases a decompressor. The zstd decoder's Close has no
// error return, so both shapes are handled.
func closeDecoder(r io.Reader) {
	switch c := r.(type) {
	case io.Closer:
		_ = c.Close()
	case interface{ Close() }:
		c.Close()
	}
}
