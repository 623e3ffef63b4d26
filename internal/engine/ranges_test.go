package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/blit/internal/bmap"
)

func collectBatches(s *Session, first, last int64) []span {
	var out []span
	for b := range s.batches(first, last) {
		out = append(out, b)
	}
	return out
}

func TestBatches(t *testing.T) {
	s := &Session{blockSize: blockSize, batchBlocks: 4}

	tests := []struct {
		name  string
		first int64
		last  int64
		want  []span
	}{
		{
			name: "exact multiple", first: 0, last: 7,
			want: []span{{0, 3, 4}, {4, 7, 4}},
		},
		{
			name: "short tail", first: 0, last: 9,
			want: []span{{0, 3, 4}, {4, 7, 4}, {8, 9, 2}},
		},
		{
			name: "shorter than one batch", first: 10, last: 11,
			want: []span{{10, 11, 2}},
		},
		{
			name: "single block", first: 5, last: 5,
			want: []span{{5, 5, 1}},
		},
		{
			name: "offset range", first: 50, last: 59,
			want: []span{{50, 53, 4}, {54, 57, 4}, {58, 59, 2}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collectBatches(s, tt.first, tt.last))
		})
	}
}

func TestBlockRanges_FromBmap(t *testing.T) {
	b := &bmap.Bmap{
		BlockSize:   blockSize,
		BlocksCount: 100,
		MappedCount: 11,
		Ranges: []bmap.Range{
			{First: 0, Last: 9, Checksum: "abc"},
			{First: 42, Last: 42},
		},
	}
	s := &Session{bmap: b, blockSize: blockSize, batchBlocks: 256}

	var got []bmap.Range
	for r := range s.blockRanges() {
		got = append(got, r)
	}
	assert.Equal(t, b.Ranges, got)
}

func TestBlockRanges_SyntheticKnownSize(t *testing.T) {
	s := &Session{blockSize: blockSize, blocksCount: 64, sizeKnown: true, batchBlocks: 256}

	var got []bmap.Range
	for r := range s.blockRanges() {
		got = append(got, r)
	}
	require.Len(t, got, 1)
	assert.Equal(t, bmap.Range{First: 0, Last: 63}, got[0])
}

func TestBlockRanges_UnboundedWhenSizeUnknown(t *testing.T) {
	s := &Session{blockSize: blockSize, batchBlocks: 8}

	// The sequence is infinite; take the first few and stop.
	var got []bmap.Range
	for r := range s.blockRanges() {
		got = append(got, r)
		if len(got) == 4 {
			break
		}
	}

	assert.Equal(t, []bmap.Range{
		{First: 0, Last: 7},
		{First: 8, Last: 15},
		{First: 16, Last: 23},
		{First: 24, Last: 31},
	}, got)
}

func TestBlockRanges_EmptyImage(t *testing.T) {
	s := &Session{blockSize: blockSize, blocksCount: 0, sizeKnown: true, batchBlocks: 256}

	count := 0
	for range s.blockRanges() {
		count++
	}
	assert.Zero(t, count)
}
