// Package bdev opens destination block devices and applies best-effort
// write-path tuning through sysfs. Every tuning step is optional: a device
// whose sysfs knobs cannot be found or written is still perfectly writable,
// so failures here are logged and swallowed, never surfaced.
package bdev

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const (
	// QueueDepth is the pipeline queue capacity for block-device copies.
	// Deeper than the regular-file default so the writer rarely starves.
	QueueDepth = 6

	// SyncWatermark is how many bytes are written to a block device between
	// proactive syncs. Keeps the page cache from absorbing gigabytes and
	// stalling the final sync.
	SyncWatermark = 6 * 1024 * 1024

	defaultSysfsRoot = "/sys/dev/block"
)

// Device is an exclusively opened block device destination. It satisfies
// engine.Destination.
type Device struct {
	f        *os.File
	capacity int64
	log      *slog.Logger

	// sysfsBase is the resolved sysfs directory for the device's queue and
	// bdi knobs, or "" when none was found.
	sysfsBase string

	saved []setting
}

// Open opens path for exclusive writing. O_EXCL on a block device makes the
// kernel refuse the open while the device is mounted or otherwise claimed.
func Open(path string, log *slog.Logger) (*Device, error) {
	return openAt(path, defaultSysfsRoot, log)
}

func openAt(path, sysfsRoot string, log *slog.Logger) (*Device, error) {
	if log == nil {
		log = slog.Default()
	}

	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_EXCL, 0)
	if err != nil {
		return nil, fmt.Errorf("open block device %q: %w", path, err)
	}

	d := &Device{f: f, log: log.With("device", path)}

	d.capacity, err = f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("probe capacity of %q: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("rewind %q: %w", path, err)
	}

	d.sysfsBase = resolveSysfs(f, sysfsRoot)
	if d.sysfsBase == "" {
		d.log.Debug("no sysfs entry found, skipping device tuning")
	}

	return d, nil
}

// resolveSysfs locates the sysfs directory holding the device's queue
// parameters. Partitions have no queue directory of their own; their parent
// disk's is one level up, reached through the symlink rather than lexically.
func resolveSysfs(f *os.File, root string) string {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return ""
	}

	rdev := uint64(st.Rdev)
	base := filepath.Join(root, fmt.Sprintf("%d:%d", unix.Major(rdev), unix.Minor(rdev)))
	if _, err := os.Stat(filepath.Join(base, "queue")); err == nil {
		return base
	}
	if _, err := os.Stat(base + "/../queue"); err == nil {
		return base + "/.."
	}
	return ""
}

// Capacity returns the device size in bytes.
func (d *Device) Capacity() int64 { return d.capacity }

// Name returns the device path.
func (d *Device) Name() string { return d.f.Name() }

// CheckCapacity fails when an image of the given size cannot fit. Called
// before any block is written so an oversized image never half-destroys the
// device contents.
func (d *Device) CheckCapacity(imageSize int64) error {
	if imageSize > d.capacity {
		return &CapacityError{ImageSize: imageSize, Capacity: d.capacity, Path: d.f.Name()}
	}
	return nil
}

func (d *Device) Write(p []byte) (int, error) { return d.f.Write(p) }

func (d *Device) Seek(off int64, whence int) (int64, error) { return d.f.Seek(off, whence) }

func (d *Device) Sync() error { return d.f.Sync() }

// Close restores any tuned sysfs settings and closes the device.
func (d *Device) Close() error {
	d.Restore()
	return d.f.Close()
}
