package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/blit/internal/event"
	"github.com/bamsammich/blit/internal/stats"
)

// plainPresenter outputs one line per noteworthy event to stdout, and
// periodic progress to stderr when not a TTY.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   *stats.Collector
	verbose bool
}

func (p *plainPresenter) Run(events <-chan event.Event) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.printProgress()
		}
	}
}

func (p *plainPresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.CopyStarted:
		fmt.Fprintln(p.w, "copying...")
	case event.BatchWritten:
		if p.verbose {
			fmt.Fprintf(p.w, "blocks %d-%d  %s\n", ev.First, ev.Last, FormatBytes(ev.Bytes))
		}
	case event.RangeChecked:
		if p.verbose {
			fmt.Fprintf(p.w, "checksum ok: blocks %d-%d\n", ev.First, ev.Last)
		}
	case event.SyncStarted:
		if p.verbose {
			fmt.Fprintln(p.w, "synchronizing...")
		}
	case event.VerifyStarted:
		fmt.Fprintln(p.w, "verifying destination...")
	case event.VerifyFailed:
		fmt.Fprintf(p.w, "MISMATCH: blocks %d-%d\n", ev.First, ev.Last)
	case event.CopyFailed:
		errMsg := "error"
		if ev.Error != nil {
			errMsg = ev.Error.Error()
		}
		fmt.Fprintf(p.w, "copy failed: %s\n", errMsg)
	}
}

func (p *plainPresenter) printProgress() {
	if p.stats == nil {
		return
	}
	snap := p.stats.Snapshot()
	if snap.BytesTotal > 0 {
		pct := float64(snap.BytesWritten) / float64(snap.BytesTotal) * 100
		fmt.Fprintf(p.errW, "progress: %.0f%% %s/%s eta %s\n",
			pct,
			FormatBytes(snap.BytesWritten), FormatBytes(snap.BytesTotal),
			FormatETA(p.stats.ETA()),
		)
	} else {
		fmt.Fprintf(p.errW, "progress: %s written\n", FormatBytes(snap.BytesWritten))
	}
}

func (p *plainPresenter) Summary() string {
	if p.stats == nil {
		return ""
	}
	return CompletionSummary(p.stats.Snapshot())
}
