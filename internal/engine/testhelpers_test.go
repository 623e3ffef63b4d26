package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand"
)

// memSource is an in-memory image with a controllable size probe.
type memSource struct {
	r      *bytes.Reader
	known  bool
	failAt int64 // byte offset at which reads start failing, <0 disables
	offset int64
}

func newMemSource(data []byte, known bool) *memSource {
	return &memSource{r: bytes.NewReader(data), known: known, failAt: -1}
}

func (s *memSource) Read(p []byte) (int, error) {
	if s.failAt >= 0 && s.offset >= s.failAt {
		return 0, errors.New("injected read failure")
	}
	n, err := s.r.Read(p)
	s.offset += int64(n)
	return n, err
}

func (s *memSource) Seek(off int64, whence int) (int64, error) {
	pos, err := s.r.Seek(off, whence)
	s.offset = pos
	return pos, err
}

func (s *memSource) Size() (int64, bool) {
	if !s.known {
		return 0, false
	}
	return s.r.Size(), true
}

// memDest is an in-memory seekable sink that counts syncs and can inject
// failures.
type memDest struct {
	buf       []byte
	pos       int64
	syncs     int
	failWrite bool
	failSync  bool
}

func newMemDest(size int, fill byte) *memDest {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = fill
	}
	return &memDest{buf: buf}
}

func (d *memDest) Write(p []byte) (int, error) {
	if d.failWrite {
		return 0, errors.New("injected write failure")
	}
	end := d.pos + int64(len(p))
	if end > int64(len(d.buf)) {
		grown := make([]byte, end)
		copy(grown, d.buf)
		d.buf = grown
	}
	copy(d.buf[d.pos:end], p)
	d.pos = end
	return len(p), nil
}

func (d *memDest) Seek(off int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = off
	case io.SeekCurrent:
		target = d.pos + off
	case io.SeekEnd:
		target = int64(len(d.buf)) + off
	}
	if target < 0 {
		return 0, fmt.Errorf("seek to negative position %d", target)
	}
	d.pos = target
	return target, nil
}

func (d *memDest) Sync() error {
	if d.failSync {
		return errors.New("injected sync failure")
	}
	d.syncs++
	return nil
}

// randomBlocks returns n blocks of deterministic pseudo-random data.
func randomBlocks(n, blockSize int) []byte {
	data := make([]byte, n*blockSize)
	rng := rand.New(rand.NewSource(42))
	rng.Read(data)
	return data
}
