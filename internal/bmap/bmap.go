// Package bmap parses and generates block map (bmap) files. A bmap is an
// XML document describing which blocks of a sparse image are mapped, i.e.
// backed by real data, so that tools can skip the holes when copying.
package bmap

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// SupportedVersion is the highest bmap format major version this package
// understands.
const SupportedVersion = 1

// Range is a contiguous run of mapped blocks, inclusive on both ends.
type Range struct {
	First    int64
	Last     int64
	Checksum string // hex SHA-1 of the range contents, empty when absent
}

// Blocks returns the number of blocks covered by the range.
func (r Range) Blocks() int64 {
	return r.Last - r.First + 1
}

// Bmap is a parsed block map document.
type Bmap struct {
	Version     string
	BlockSize   int64
	BlocksCount int64
	MappedCount int64
	Ranges      []Range
}

// ImageSize returns the size of the image the bmap describes, in bytes.
func (b *Bmap) ImageSize() int64 {
	return b.BlocksCount * b.BlockSize
}

// MappedSize returns the total size of the mapped blocks, in bytes.
func (b *Bmap) MappedSize() int64 {
	return b.MappedCount * b.BlockSize
}

// MappedPercent returns the share of mapped blocks as a percentage.
func (b *Bmap) MappedPercent() float64 {
	return float64(b.MappedCount) * 100.0 / float64(b.BlocksCount)
}

// xmlBmap mirrors the on-disk document. Scalars are kept as strings so
// that missing and malformed values can be told apart after decoding.
type xmlBmap struct {
	XMLName           xml.Name   `xml:"bmap"`
	Version           string     `xml:"version,attr"`
	BlockSize         string     `xml:"BlockSize"`
	BlocksCount       string     `xml:"BlocksCount"`
	MappedBlocksCount string     `xml:"MappedBlocksCount"`
	Ranges            []xmlRange `xml:"BlockMap>Range"`
}

type xmlRange struct {
	Checksum string `xml:"sha1,attr"`
	Text     string `xml:",chardata"`
}

// Parse reads a bmap document from r. It returns a *VersionError when the
// document's major version exceeds SupportedVersion, a *RangeError when a
// block range is malformed, and a *ParseError for anything else wrong with
// the document.
func Parse(r io.Reader) (*Bmap, error) {
	var doc xmlBmap
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("not a well-formed XML document: %w", err)}
	}

	major, err := parseMajor(doc.Version)
	if err != nil {
		return nil, &ParseError{Field: "version", Err: err}
	}
	if major > SupportedVersion {
		return nil, &VersionError{Version: doc.Version}
	}

	b := &Bmap{Version: doc.Version}

	if b.BlockSize, err = parseScalar("BlockSize", doc.BlockSize); err != nil {
		return nil, err
	}
	if b.BlocksCount, err = parseScalar("BlocksCount", doc.BlocksCount); err != nil {
		return nil, err
	}
	if b.MappedCount, err = parseScalar("MappedBlocksCount", doc.MappedBlocksCount); err != nil {
		return nil, err
	}

	if b.BlockSize <= 0 {
		return nil, &ParseError{Field: "BlockSize", Err: fmt.Errorf("must be positive, got %d", b.BlockSize)}
	}
	if b.MappedCount > b.BlocksCount {
		return nil, &ParseError{
			Field: "MappedBlocksCount",
			Err:   fmt.Errorf("%d exceeds BlocksCount %d", b.MappedCount, b.BlocksCount),
		}
	}

	b.Ranges = make([]Range, 0, len(doc.Ranges))
	for _, xr := range doc.Ranges {
		first, last, err := parseRangeText(xr.Text)
		if err != nil {
			return nil, err
		}
		b.Ranges = append(b.Ranges, Range{First: first, Last: last, Checksum: xr.Checksum})
	}

	return b, nil
}

// parseMajor extracts the major component of a "major.minor" version string.
func parseMajor(version string) (int, error) {
	if version == "" {
		return 0, fmt.Errorf("missing version attribute")
	}
	major, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("bad version %q: %w", version, err)
	}
	return n, nil
}

// parseScalar parses a required integer element, tolerating surrounding
// whitespace the way the reference bmap files format them.
func parseScalar(field, text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, &ParseError{Field: field, Err: fmt.Errorf("element is missing or empty")}
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, &ParseError{Field: field, Err: err}
	}
	if n < 0 {
		return 0, &ParseError{Field: field, Err: fmt.Errorf("must not be negative, got %d", n)}
	}
	return n, nil
}

// parseRangeText parses the text of a Range element, which is either a
// single block number "N" or a pair "N-M".
func parseRangeText(text string) (first, last int64, err error) {
	spec := strings.TrimSpace(text)

	lo, hi, pair := strings.Cut(spec, "-")
	first, err = strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
	if err != nil || first < 0 {
		return 0, 0, &RangeError{Spec: spec}
	}

	last = first
	if pair {
		last, err = strconv.ParseInt(strings.TrimSpace(hi), 10, 64)
		if err != nil || last < 0 {
			return 0, 0, &RangeError{Spec: spec}
		}
	}

	if first > last {
		return 0, 0, &RangeError{Spec: spec}
	}
	return first, last, nil
}
