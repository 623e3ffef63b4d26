package engine

import (
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bamsammich/blit/internal/bmap"
	"github.com/bamsammich/blit/internal/event"
)

// VerifyConfig controls a post-copy verification pass.
type VerifyConfig struct {
	Image     io.ReadSeeker
	Dest      io.ReadSeeker
	Ranges    []bmap.Range
	BlockSize int64
	ImageSize int64 // clamps the final block of the last range
	Events    chan<- event.Event
}

// VerifyWritten re-reads every mapped range from both the image and the
// destination and compares BLAKE3 digests, reporting the first mismatch as
// a *RangeMismatchError. The bmap's own SHA-1 checksums guard the read
// side during Copy; this pass additionally proves the destination medium
// holds what was written.
func VerifyWritten(cfg VerifyConfig) error {
	emitTo(cfg.Events, event.Event{Type: event.VerifyStarted})

	buf := make([]byte, defaultBatchBytes)
	for _, r := range cfg.Ranges {
		imgSum, err := blake3Range(cfg.Image, r, cfg.BlockSize, cfg.ImageSize, buf)
		if err != nil {
			return fmt.Errorf("read back blocks %d-%d of the image: %w", r.First, r.Last, err)
		}
		dstSum, err := blake3Range(cfg.Dest, r, cfg.BlockSize, cfg.ImageSize, buf)
		if err != nil {
			return fmt.Errorf("read back blocks %d-%d of the destination: %w", r.First, r.Last, err)
		}

		if imgSum != dstSum {
			verr := &RangeMismatchError{First: r.First, Last: r.Last, Image: imgSum, Dest: dstSum}
			emitTo(cfg.Events, event.Event{Type: event.VerifyFailed, First: r.First, Last: r.Last, Error: verr})
			return verr
		}
		emitTo(cfg.Events, event.Event{Type: event.VerifyOK, First: r.First, Last: r.Last})
	}

	return nil
}

// blake3Range computes the hex BLAKE3 digest of one block range, clamping
// the final block to the image size.
func blake3Range(rs io.ReadSeeker, r bmap.Range, blockSize, imageSize int64, buf []byte) (string, error) {
	start := r.First * blockSize
	end := (r.Last + 1) * blockSize
	if imageSize > 0 && end > imageSize {
		end = imageSize
	}

	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return "", err
	}

	h := blake3.New()
	if _, err := io.CopyBuffer(h, io.LimitReader(rs, end-start), buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func emitTo(ch chan<- event.Event, e event.Event) {
	if ch == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case ch <- e:
	default:
	}
}
