package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bamsammich/blit/internal/event"
	"github.com/bamsammich/blit/internal/stats"
)

// linePresenter redraws a single status line on a TTY once per second:
// a progress bar while the mapped size is known, a byte counter otherwise.
type linePresenter struct {
	w     io.Writer
	stats *stats.Collector

	lastLen int
}

func (p *linePresenter) Run(events <-chan event.Event) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				p.clear()
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			p.redraw()
		}
	}
}

func (p *linePresenter) handleEvent(ev event.Event) {
	switch ev.Type {
	case event.VerifyStarted:
		p.clear()
		fmt.Fprintln(p.w, "verifying destination...")
	case event.VerifyFailed:
		p.clear()
		fmt.Fprintf(p.w, "MISMATCH: blocks %d-%d\n", ev.First, ev.Last)
	case event.CopyComplete, event.CopyFailed:
		p.clear()
	}
}

func (p *linePresenter) redraw() {
	snap := p.stats.Snapshot()

	var line string
	if snap.BytesTotal > 0 {
		pct := float64(snap.BytesWritten) / float64(snap.BytesTotal)
		width := TermWidth(os.Stderr.Fd()) / 4
		if width > 40 {
			width = 40
		}
		line = fmt.Sprintf("%s %3.0f%%  %s/%s  %s  eta %s",
			ProgressBar(pct, width),
			pct*100,
			FormatBytes(snap.BytesWritten), FormatBytes(snap.BytesTotal),
			FormatRate(p.stats.RollingSpeed(5)),
			FormatETA(p.stats.ETA()),
		)
	} else {
		line = fmt.Sprintf("%s written  %s",
			FormatBytes(snap.BytesWritten),
			FormatRate(p.stats.RollingSpeed(5)),
		)
	}

	pad := p.lastLen - len(line)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(p.w, "\r%s%s", line, strings.Repeat(" ", pad))
	p.lastLen = len(line)
}

// clear erases the status line so regular output starts on a clean row.
func (p *linePresenter) clear() {
	if p.lastLen == 0 {
		return
	}
	fmt.Fprintf(p.w, "\r%s\r", strings.Repeat(" ", p.lastLen))
	p.lastLen = 0
}

func (p *linePresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}
