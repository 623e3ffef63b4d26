package bdev

import "fmt"

// CapacityError reports an image that cannot fit on the destination device.
type CapacityError struct {
	ImageSize int64
	Capacity  int64
	Path      string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("image size %d exceeds capacity %d of block device %q",
		e.ImageSize, e.Capacity, e.Path)
}
