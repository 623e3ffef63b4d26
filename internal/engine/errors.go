package engine

import "fmt"

// ChecksumError reports a block range whose data did not match the
// checksum declared in the bmap.
type ChecksumError struct {
	First int64
	Last  int64
	Want  string
	Got   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for blocks range %d-%d: calculated %s, should be %s",
		e.First, e.Last, e.Got, e.Want)
}

// SizeMismatchError reports a copy that wrote a different number of blocks
// than the bmap said were mapped. It always indicates an inconsistent bmap
// or a truncated image.
type SizeMismatchError struct {
	Written int64
	Mapped  int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("wrote %d blocks, but should have written %d - inconsistent bmap file",
		e.Written, e.Mapped)
}

// SyncError reports a failed durability sync of the destination.
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("cannot synchronize destination: %v", e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// RangeMismatchError reports a post-copy verification failure: the
// destination's content for a range differs from the image's.
type RangeMismatchError struct {
	First int64
	Last  int64
	Image string
	Dest  string
}

func (e *RangeMismatchError) Error() string {
	return fmt.Sprintf("destination differs from image in blocks range %d-%d: image %s, destination %s",
		e.First, e.Last, e.Image, e.Dest)
}
