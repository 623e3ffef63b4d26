package bdev

import (
	"os"
	"regexp"
	"strings"
)

// The active scheduler is the bracketed entry, e.g. "noop deadline [cfq]".
var activeScheduler = regexp.MustCompile(`\[(.+)\]`)

// setting is one sysfs value captured before tuning, to be written back by
// Restore.
type setting struct {
	path  string
	value string
}

// Tune switches the device's I/O scheduler to a low-latency one and caps
// the writeback dirty ratio, remembering the previous values. Writing many
// gigabytes sequentially neither benefits from request reordering nor
// should be allowed to fill the page cache with dirty pages. Every step is
// best effort.
func (d *Device) Tune() {
	if d.sysfsBase == "" {
		return
	}
	d.tuneScheduler()
	d.tuneMaxRatio()
}

func (d *Device) tuneScheduler() {
	path := d.sysfsBase + "/queue/scheduler"
	raw, err := os.ReadFile(path)
	if err != nil {
		d.log.Debug("cannot read scheduler", "path", path, "error", err)
		return
	}

	m := activeScheduler.FindSubmatch(raw)
	if m == nil {
		d.log.Debug("cannot parse scheduler", "path", path, "contents", string(raw))
		return
	}
	current := string(m[1])
	if current == "noop" || current == "none" {
		return
	}

	// "noop" on older kernels, "none" on multi-queue ones.
	for _, sched := range []string{"noop", "none"} {
		if err := os.WriteFile(path, []byte(sched), 0644); err == nil {
			d.log.Debug("switched scheduler", "from", current, "to", sched)
			d.saved = append(d.saved, setting{path: path, value: current})
			return
		}
	}
	d.log.Debug("cannot switch scheduler", "path", path, "current", current)
}

func (d *Device) tuneMaxRatio() {
	path := d.sysfsBase + "/bdi/max_ratio"
	raw, err := os.ReadFile(path)
	if err != nil {
		d.log.Debug("cannot read max_ratio", "path", path, "error", err)
		return
	}
	current := strings.TrimSpace(string(raw))
	if current == "1" {
		return
	}

	if err := os.WriteFile(path, []byte("1"), 0644); err != nil {
		d.log.Debug("cannot limit max_ratio", "path", path, "error", err)
		return
	}
	d.saved = append(d.saved, setting{path: path, value: current})
}

// Restore writes back every setting Tune changed, most recent first.
// Idempotent; failures are logged and swallowed.
func (d *Device) Restore() {
	for i := len(d.saved) - 1; i >= 0; i-- {
		s := d.saved[i]
		if err := os.WriteFile(s.path, []byte(s.value), 0644); err != nil {
			d.log.Debug("cannot restore setting", "path", s.path, "error", err)
		}
	}
	d.saved = nil
}
