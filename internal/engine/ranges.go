package engine

import (
	"iter"

	"github.com/bamsammich/blit/internal/bmap"
)

// span is one I/O batch within a block range, inclusive on both ends.
type span struct {
	start  int64
	end    int64
	length int64 // blocks, end - start + 1
}

// blockRanges yields the block ranges to copy, in order. With a bmap the
// manifest's ranges are yielded as-is. Without one, a single range covers
// the whole image when its size is known; otherwise the sequence is
// unbounded and the producer stops it when the source runs dry.
func (s *Session) blockRanges() iter.Seq[bmap.Range] {
	return func(yield func(bmap.Range) bool) {
		if s.bmap != nil {
			for _, r := range s.bmap.Ranges {
				if !yield(r) {
					return
				}
			}
			return
		}

		if s.sizeKnown {
			if s.blocksCount > 0 {
				yield(bmap.Range{First: 0, Last: s.blocksCount - 1})
			}
			return
		}

		first := int64(0)
		for {
			if !yield(bmap.Range{First: first, Last: first + s.batchBlocks - 1}) {
				return
			}
			first += s.batchBlocks
		}
	}
}

// batches splits the block range [first, last] into batchBlocks-sized
// spans plus one short tail. A range shorter than a full batch yields a
// single span covering the whole range.
func (s *Session) batches(first, last int64) iter.Seq[span] {
	return func(yield func(span) bool) {
		for first+s.batchBlocks-1 <= last {
			if !yield(span{start: first, end: first + s.batchBlocks - 1, length: s.batchBlocks}) {
				return
			}
			first += s.batchBlocks
		}

		if tail := last - first + 1; tail > 0 {
			yield(span{start: first, end: last, length: tail})
		}
	}
}
