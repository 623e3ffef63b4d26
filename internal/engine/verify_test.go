package engine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/blit/internal/bmap"
	"github.com/bamsammich/blit/internal/event"
)

func TestVerifyWritten_Match(t *testing.T) {
	data := randomBlocks(100, blockSize)
	dest := make([]byte, len(data))
	copy(dest, data)

	events := make(chan event.Event, 16)
	err := VerifyWritten(VerifyConfig{
		Image:     bytes.NewReader(data),
		Dest:      bytes.NewReader(dest),
		Ranges:    []bmap.Range{{First: 0, Last: 9}, {First: 50, Last: 59}},
		BlockSize: blockSize,
		ImageSize: int64(len(data)),
		Events:    events,
	})
	require.NoError(t, err)

	var oks int
	close(events)
	for e := range events {
		if e.Type == event.VerifyOK {
			oks++
		}
	}
	assert.Equal(t, 2, oks)
}

func TestVerifyWritten_Mismatch(t *testing.T) {
	data := randomBlocks(100, blockSize)
	dest := make([]byte, len(data))
	copy(dest, data)

	// Flip one bit inside the second mapped range on the destination.
	dest[55*blockSize+3] ^= 0x01

	err := VerifyWritten(VerifyConfig{
		Image:     bytes.NewReader(data),
		Dest:      bytes.NewReader(dest),
		Ranges:    []bmap.Range{{First: 0, Last: 9}, {First: 50, Last: 59}},
		BlockSize: blockSize,
		ImageSize: int64(len(data)),
	})
	var verr *RangeMismatchError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, int64(50), verr.First)
	assert.Equal(t, int64(59), verr.Last)
	assert.NotEqual(t, verr.Image, verr.Dest)
}

func TestVerifyWritten_CorruptionOutsideRangesIgnored(t *testing.T) {
	data := randomBlocks(100, blockSize)
	dest := make([]byte, len(data))
	copy(dest, data)

	// Unmapped blocks may differ; only mapped ranges are compared.
	dest[20*blockSize] ^= 0x01

	err := VerifyWritten(VerifyConfig{
		Image:     bytes.NewReader(data),
		Dest:      bytes.NewReader(dest),
		Ranges:    []bmap.Range{{First: 0, Last: 9}},
		BlockSize: blockSize,
		ImageSize: int64(len(data)),
	})
	require.NoError(t, err)
}

func TestVerifyWritten_ClampsFinalRange(t *testing.T) {
	// 2 full blocks plus a 100-byte tail; the final range covers block 2
	// but only the tail bytes exist.
	data := randomBlocks(2, blockSize)
	data = append(data, bytes.Repeat([]byte{9}, 100)...)

	// Destination holds the same bytes padded with zeros out to the block
	// boundary, as a block device would after the copy.
	dest := make([]byte, 3*blockSize)
	copy(dest, data)

	err := VerifyWritten(VerifyConfig{
		Image:     bytes.NewReader(data),
		Dest:      bytes.NewReader(dest),
		Ranges:    []bmap.Range{{First: 0, Last: 2}},
		BlockSize: blockSize,
		ImageSize: int64(len(data)),
	})
	require.NoError(t, err)
}
