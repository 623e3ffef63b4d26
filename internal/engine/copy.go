package engine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"sync"

	"github.com/bamsammich/blit/internal/event"
)

// Options controls a single Copy call.
type Options struct {
	Sync   bool // issue a durable sync after the copy
	Verify bool // verify bmap-declared checksums while reading
}

// itemKind tags entries on the pipeline queue.
type itemKind uint8

const (
	itemData itemKind = iota + 1
	itemEOS           // producer finished or source exhausted
	itemErr           // producer failed; err carries the cause
)

// item is one entry on the bounded queue between producer and consumer.
type item struct {
	kind   itemKind
	start  int64
	end    int64
	length int64 // blocks
	data   []byte
	err    error
}

// Copy copies the image to the destination. Only mapped block ranges are
// transferred. On success all stream positions are back at their pre-call
// values, so Copy may be invoked again on the same session.
func (s *Session) Copy(ctx context.Context, opts Options) error {
	srcPos, err := s.cfg.Source.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("image stream position: %w", err)
	}
	dstPos, err := s.cfg.Dest.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("destination stream position: %w", err)
	}

	s.log.Debug("copy started",
		"verify", opts.Verify,
		"sync", opts.Sync,
		"block_size", s.blockSize,
		"batch_blocks", s.batchBlocks,
		"queue_depth", s.cfg.QueueDepth,
	)
	s.emit(event.Event{Type: event.CopyStarted})

	// Cancelling on exit guarantees the producer never blocks forever on
	// a queue the consumer stopped draining.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan item, s.cfg.QueueDepth)
	var producer sync.WaitGroup
	producer.Add(1)
	go func() {
		defer producer.Done()
		s.produce(ctx, queue, opts.Verify)
	}()

	written, err := s.consume(ctx, queue)

	// The producer must be gone before Copy returns: the caller may close
	// the event channel as soon as it has the error, and a straggling
	// producer would still be emitting into it.
	cancel()
	producer.Wait()

	if err != nil {
		s.emit(event.Event{Type: event.CopyFailed, Error: err})
		return err
	}

	if !s.sizeKnown {
		// The image streamed through a decompressor and its size was
		// unknown until now.
		s.initializeSizes(written * s.blockSize)
	}

	if written != s.mappedCount {
		err := &SizeMismatchError{Written: written, Mapped: s.mappedCount}
		s.emit(event.Event{Type: event.CopyFailed, Error: err})
		return err
	}

	if f, ok := s.cfg.Dest.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush destination: %w", err)
		}
	}
	if opts.Sync {
		if err := s.Sync(); err != nil {
			s.emit(event.Event{Type: event.CopyFailed, Error: err})
			return err
		}
	}

	if _, err := s.cfg.Source.Seek(srcPos, io.SeekStart); err != nil {
		return fmt.Errorf("restore image stream position: %w", err)
	}
	if _, err := s.cfg.Dest.Seek(dstPos, io.SeekStart); err != nil {
		return fmt.Errorf("restore destination stream position: %w", err)
	}

	s.log.Info("copy complete", "blocks_written", written, "bytes", written*s.blockSize)
	s.emit(event.Event{Type: event.CopyComplete, Bytes: written * s.blockSize})
	return nil
}

// Sync forces all previously written data to durable storage.
func (s *Session) Sync() error {
	s.emit(event.Event{Type: event.SyncStarted})
	if err := s.cfg.Dest.Sync(); err != nil {
		return &SyncError{Err: err}
	}
	if s.cfg.Stats != nil {
		s.cfg.Stats.AddSyncs(1)
	}
	s.emit(event.Event{Type: event.SyncComplete})
	return nil
}

// produce reads the image range by range, batch by batch, and feeds the
// queue. Any failure is forwarded as an error item; an end-of-stream item
// always follows, so the consumer never waits for data that will not come.
func (s *Session) produce(ctx context.Context, queue chan<- item, verify bool) {
	defer s.send(ctx, queue, item{kind: itemEOS})

	for r := range s.blockRanges() {
		var sum hash.Hash
		if verify && r.Checksum != "" {
			sum = sha1.New()
		}

		if _, err := s.cfg.Source.Seek(r.First*s.blockSize, io.SeekStart); err != nil {
			s.send(ctx, queue, item{kind: itemErr,
				err: fmt.Errorf("seek image to block %d: %w", r.First, err)})
			return
		}

		for b := range s.batches(r.First, r.Last) {
			buf := make([]byte, b.length*s.blockSize)
			n, err := io.ReadFull(s.cfg.Source, buf)
			switch {
			case errors.Is(err, io.EOF):
				// No data at all: the source is exhausted. This is the
				// sole terminator when the image size is unknown.
				return
			case err != nil && !errors.Is(err, io.ErrUnexpectedEOF):
				s.send(ctx, queue, item{kind: itemErr,
					err: fmt.Errorf("read blocks %d-%d of the image: %w", b.start, b.end, err)})
				return
			}

			data := buf[:n]
			if sum != nil {
				sum.Write(data)
			}
			if s.cfg.Stats != nil {
				s.cfg.Stats.AddBytesRead(int64(n))
			}

			// A short final read shrinks the batch; recompute its bounds
			// from the bytes actually there.
			length := (int64(n) + s.blockSize - 1) / s.blockSize
			ok := s.send(ctx, queue, item{
				kind:   itemData,
				start:  b.start,
				end:    b.start + length - 1,
				length: length,
				data:   data,
			})
			if !ok {
				return
			}

			// A short read on an image of unknown size means the stream
			// just ran dry; seeking to the next synthetic range would land
			// past end-of-stream, which a compressed source cannot do.
			if !s.sizeKnown && n < len(buf) {
				return
			}
		}

		if sum != nil {
			got := hex.EncodeToString(sum.Sum(nil))
			if got != r.Checksum {
				s.send(ctx, queue, item{kind: itemErr,
					err: &ChecksumError{First: r.First, Last: r.Last, Want: r.Checksum, Got: got}})
				return
			}
			if s.cfg.Stats != nil {
				s.cfg.Stats.AddRangesChecked(1)
			}
			s.emit(event.Event{Type: event.RangeChecked, First: r.First, Last: r.Last})
		}

		if s.cfg.Stats != nil {
			s.cfg.Stats.AddRangesCopied(1)
		}
	}
}

// consume drains the queue, writing batches to the destination in the
// order they arrive and syncing at the configured watermark.
func (s *Session) consume(ctx context.Context, queue <-chan item) (int64, error) {
	var written, syncedAt int64

	for {
		var it item
		select {
		case it = <-queue:
		case <-ctx.Done():
			return written, ctx.Err()
		}

		switch it.kind {
		case itemEOS:
			return written, nil
		case itemErr:
			return written, it.err
		}

		if _, err := s.cfg.Dest.Seek(it.start*s.blockSize, io.SeekStart); err != nil {
			return written, fmt.Errorf("seek destination to block %d: %w", it.start, err)
		}

		if s.watermarkBlocks > 0 && written >= syncedAt+s.watermarkBlocks {
			syncedAt = written
			if err := s.Sync(); err != nil {
				return written, err
			}
		}

		if _, err := s.cfg.Dest.Write(it.data); err != nil {
			return written, fmt.Errorf("write blocks %d-%d to destination: %w", it.start, it.end, err)
		}

		written += it.length
		if s.cfg.Stats != nil {
			s.cfg.Stats.AddBytesWritten(int64(len(it.data)))
			s.cfg.Stats.AddBlocksWritten(it.length)
		}
		s.emit(event.Event{Type: event.BatchWritten, First: it.start, Last: it.end, Bytes: int64(len(it.data))})
	}
}

// send puts an item on the queue unless the copy has been torn down.
func (s *Session) send(ctx context.Context, queue chan<- item, it item) bool {
	select {
	case queue <- it:
		return true
	case <-ctx.Done():
		return false
	}
}
