// Package engine implements bmap-based image copying: a producer goroutine
// reads mapped block ranges from the image while the consumer writes them
// to the destination, connected by a bounded channel.
package engine

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/bamsammich/blit/internal/bmap"
	"github.com/bamsammich/blit/internal/event"
	"github.com/bamsammich/blit/internal/stats"
)

const (
	// defaultBlockSize is assumed when no bmap is supplied.
	defaultBlockSize = 4096

	// defaultBatchBytes caps how much data a single batch moves.
	defaultBatchBytes = 1024 * 1024

	// defaultQueueDepth bounds the pipeline queue between the reader and
	// the writer.
	defaultQueueDepth = 2
)

// Source is a readable, seekable image with an optional size probe. Size
// reports false when the length cannot be known before the source has been
// read in full (streaming decompression).
type Source interface {
	io.ReadSeeker
	Size() (int64, bool)
}

// Destination is a writable, seekable sink with a durable-sync operation.
// *os.File satisfies it.
type Destination interface {
	io.WriteSeeker
	Sync() error
}

// Config describes a copy session.
type Config struct {
	Source Source
	Dest   Destination
	Bmap   io.ReadSeeker // optional; nil copies the whole image

	// Ownership flags: handles the session opened itself are closed by
	// Close, externally supplied ones are left open.
	OwnSource io.Closer
	OwnDest   io.Closer
	OwnBmap   io.Closer

	BatchBytes    int64 // read budget per batch, default 1 MiB
	QueueDepth    int   // pipeline queue capacity, default 2
	SyncWatermark int64 // bytes written between proactive syncs, 0 disables

	Stats  *stats.Collector   // optional
	Events chan<- event.Event // optional
	Logger *slog.Logger       // optional
}

// Session is a single image-to-destination copy operation. Its size
// attributes come from the bmap when one is supplied; without a bmap they
// come from the source's size probe, or stay unknown until the first Copy
// has read the whole stream.
type Session struct {
	cfg Config
	log *slog.Logger

	bmap        *bmap.Bmap // nil when copying without a bmap
	blockSize   int64
	blocksCount int64
	mappedCount int64
	sizeKnown   bool

	batchBlocks     int64
	watermarkBlocks int64
}

// NewSession builds a copy session. When cfg.Bmap is set it is parsed
// immediately and its stream position is restored afterwards.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("session: no image source")
	}
	if cfg.Dest == nil {
		return nil, fmt.Errorf("session: no destination")
	}
	if cfg.BatchBytes <= 0 {
		cfg.BatchBytes = defaultBatchBytes
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = defaultQueueDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Session{
		cfg: cfg,
		log: cfg.Logger.With("session", uuid.NewString()),
	}

	if cfg.Bmap != nil {
		if err := s.parseBmap(cfg.Bmap); err != nil {
			return nil, err
		}
	} else {
		s.blockSize = defaultBlockSize
		if size, known := cfg.Source.Size(); known {
			s.initializeSizes(size)
		}
	}

	s.batchBlocks = cfg.BatchBytes / s.blockSize
	if s.batchBlocks < 1 {
		s.batchBlocks = 1
	}
	s.watermarkBlocks = cfg.SyncWatermark / s.blockSize

	if s.sizeKnown && cfg.Stats != nil {
		cfg.Stats.SetBytesTotal(s.mappedCount * s.blockSize)
	}

	return s, nil
}

// parseBmap reads the manifest and restores the stream position so the
// caller's handle looks untouched.
func (s *Session) parseBmap(r io.ReadSeeker) error {
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("bmap stream position: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind bmap stream: %w", err)
	}

	b, err := bmap.Parse(r)
	if err != nil {
		return err
	}

	if _, err := r.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("restore bmap stream position: %w", err)
	}

	s.bmap = b
	s.blockSize = b.BlockSize
	s.blocksCount = b.BlocksCount
	s.mappedCount = b.MappedCount
	s.sizeKnown = true
	return nil
}

// initializeSizes derives the size attributes for a bmap-less copy where
// the whole image counts as mapped. Called once: either at session
// creation when the source size is probeable, or after the first Copy has
// exhausted a stream of unknown length.
func (s *Session) initializeSizes(imageSize int64) {
	s.blocksCount = (imageSize + s.blockSize - 1) / s.blockSize
	s.mappedCount = s.blocksCount
	s.sizeKnown = true
	if s.cfg.Stats != nil {
		s.cfg.Stats.SetBytesTotal(s.mappedCount * s.blockSize)
	}
}

// Close closes every handle the session owns. Externally supplied handles
// are left open.
func (s *Session) Close() error {
	var firstErr error
	for _, c := range []io.Closer{s.cfg.OwnSource, s.cfg.OwnDest, s.cfg.OwnBmap} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BlockSize returns the copy block size in bytes.
func (s *Session) BlockSize() int64 { return s.blockSize }

// BmapVersion returns the bmap format version, or "" when copying without
// a bmap.
func (s *Session) BmapVersion() string {
	if s.bmap == nil {
		return ""
	}
	return s.bmap.Version
}

// BlocksCount returns the total number of image blocks and whether it is
// known yet.
func (s *Session) BlocksCount() (int64, bool) { return s.blocksCount, s.sizeKnown }

// MappedCount returns the number of mapped blocks and whether it is known.
func (s *Session) MappedCount() (int64, bool) { return s.mappedCount, s.sizeKnown }

// ImageSize returns the image size in bytes and whether it is known.
func (s *Session) ImageSize() (int64, bool) {
	return s.blocksCount * s.blockSize, s.sizeKnown
}

// MappedSize returns the mapped data size in bytes and whether it is known.
func (s *Session) MappedSize() (int64, bool) {
	return s.mappedCount * s.blockSize, s.sizeKnown
}

// MappedPercent returns the share of mapped blocks. Without a bmap the
// whole image counts as mapped, so this reports 100 even before the size
// of a streamed image is known.
func (s *Session) MappedPercent() float64 {
	if s.bmap != nil {
		return s.bmap.MappedPercent()
	}
	return 100
}

// ImageSizeHuman renders the image size for display, or "unknown" until a
// streamed image has been read in full.
func (s *Session) ImageSizeHuman() string {
	size, known := s.ImageSize()
	if !known {
		return "unknown"
	}
	return humanize.IBytes(uint64(size))
}

// MappedSizeHuman renders the mapped data size for display.
func (s *Session) MappedSizeHuman() string {
	size, known := s.MappedSize()
	if !known {
		return "unknown"
	}
	return humanize.IBytes(uint64(size))
}

// Ranges returns the mapped block ranges the session copies: the bmap's
// ranges, or a single synthetic range spanning the whole image once its
// size is known.
func (s *Session) Ranges() []bmap.Range {
	if s.bmap != nil {
		return s.bmap.Ranges
	}
	if !s.sizeKnown || s.blocksCount == 0 {
		return nil
	}
	return []bmap.Range{{First: 0, Last: s.blocksCount - 1}}
}

func (s *Session) emit(e event.Event) {
	if s.cfg.Events == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case s.cfg.Events <- e:
	default:
	}
}
