package bmap

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultBlockSize is the block granularity used when generating a bmap.
const DefaultBlockSize = 4096

// createVersion is the format version emitted by Create. 1.3 is the first
// version carrying per-range SHA-1 checksums.
const createVersion = "1.3"

// Create scans the sparse layout of the image at path and builds a bmap
// for it. Filesystems without SEEK_DATA/SEEK_HOLE support yield a bmap
// with every block mapped.
func Create(path string) (*Bmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image %s: %w", path, err)
	}
	size := info.Size()

	b := &Bmap{
		Version:     createVersion,
		BlockSize:   DefaultBlockSize,
		BlocksCount: (size + DefaultBlockSize - 1) / DefaultBlockSize,
	}
	if size == 0 {
		return b, nil
	}

	ranges, err := mappedRanges(f, size, b.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("scan sparse layout of %s: %w", path, err)
	}

	for _, r := range ranges {
		sum, err := hashRange(f, r, b.BlockSize, size)
		if err != nil {
			return nil, fmt.Errorf("checksum blocks %d-%d of %s: %w", r.First, r.Last, path, err)
		}
		r.Checksum = sum
		b.Ranges = append(b.Ranges, r)
		b.MappedCount += r.Blocks()
	}

	return b, nil
}

// mappedRanges walks SEEK_DATA/SEEK_HOLE and converts the data extents to
// block ranges. Extents touching the same block are merged.
func mappedRanges(f *os.File, size, blockSize int64) ([]Range, error) {
	fd := int(f.Fd())
	var ranges []Range
	offset := int64(0)

	for offset < size {
		dataStart, err := unix.Seek(fd, offset, unix.SEEK_DATA)
		if err != nil {
			if err == syscall.ENXIO {
				break // rest of the file is a hole
			}
			if err == syscall.EINVAL {
				// No sparse support: treat the whole file as mapped.
				return []Range{{First: 0, Last: (size - 1) / blockSize}}, nil
			}
			return nil, err
		}

		dataEnd, err := unix.Seek(fd, dataStart, unix.SEEK_HOLE)
		if err != nil {
			switch err {
			case syscall.ENXIO:
				dataEnd = size
			case syscall.EINVAL:
				return []Range{{First: 0, Last: (size - 1) / blockSize}}, nil
			default:
				return nil, err
			}
		}
		if dataEnd > size {
			dataEnd = size
		}

		first := dataStart / blockSize
		last := (dataEnd - 1) / blockSize

		if n := len(ranges); n > 0 && first <= ranges[n-1].Last+1 {
			ranges[n-1].Last = last
		} else {
			ranges = append(ranges, Range{First: first, Last: last})
		}

		offset = dataEnd
	}

	return ranges, nil
}

// hashRange computes the hex SHA-1 of a block range, clamping the final
// block to the image size the way bmap consumers read it back.
func hashRange(f *os.File, r Range, blockSize, size int64) (string, error) {
	start := r.First * blockSize
	end := (r.Last + 1) * blockSize
	if end > size {
		end = size
	}

	h := sha1.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, start, end-start)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteTo serializes the bmap as an XML document.
func (b *Bmap) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}

	fmt.Fprintf(cw, "<?xml version=\"1.0\" ?>\n")
	fmt.Fprintf(cw, "<bmap version=\"%s\">\n", b.Version)
	fmt.Fprintf(cw, "    <ImageSize> %d </ImageSize>\n", b.ImageSize())
	fmt.Fprintf(cw, "    <BlockSize> %d </BlockSize>\n", b.BlockSize)
	fmt.Fprintf(cw, "    <BlocksCount> %d </BlocksCount>\n", b.BlocksCount)
	fmt.Fprintf(cw, "    <MappedBlocksCount> %d </MappedBlocksCount>\n", b.MappedCount)
	fmt.Fprintf(cw, "    <BlockMap>\n")
	for _, r := range b.Ranges {
		var span string
		if r.First == r.Last {
			span = fmt.Sprintf("%d", r.First)
		} else {
			span = fmt.Sprintf("%d-%d", r.First, r.Last)
		}
		if r.Checksum != "" {
			fmt.Fprintf(cw, "        <Range sha1=\"%s\"> %s </Range>\n", r.Checksum, span)
		} else {
			fmt.Fprintf(cw, "        <Range> %s </Range>\n", span)
		}
	}
	fmt.Fprintf(cw, "    </BlockMap>\n")
	fmt.Fprintf(cw, "</bmap>\n")

	return cw.n, cw.err
}

type countWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (cw *countWriter) Write(p []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	cw.err = err
	return n, err
}
