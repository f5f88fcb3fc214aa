package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bamsammich/stash/internal/stats"
)

const progressInterval = 5 * time.Second

// plainPresenter writes one line per file outcome to w when verbose.
// Failures and warnings always reach errW. Each line is written with a
// single call, so lines never interleave.
type plainPresenter struct {
	w       io.Writer
	errW    io.Writer
	stats   stats.Reader
	theme   theme
	verbose bool
	dryRun  bool

	lastBytes int64
	lastTick  time.Time
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	p.lastTick = time.Now()

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

func (p *plainPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case FileTransferred:
		p.verboseLine(p.theme.done, pastTense(ev.Action), ev.Path, "-> "+ev.Target, FormatBytes(ev.Size))
	case FileSimulated:
		p.verboseLine(p.theme.done, "would "+ev.Action, ev.Path, "-> "+ev.Target, FormatBytes(ev.Size))
	case FileNoop:
		p.verboseLine(p.theme.info, "archived", ev.Path, "-> "+ev.Target, "identical")
	case FileSkipped:
		p.verboseLine(p.theme.muted, "skipped", ev.Path, ev.Reason, FormatBytes(ev.Size))
	case FileFailed:
		p.problemLine(p.theme.failed, "error", ev)
	case FileWarning:
		p.problemLine(p.theme.warn, "warning", ev)
	case ScanStarted, ScanComplete:
		// totals are read from the collector
	}
}

func (p *plainPresenter) verboseLine(label labelStyle, verb, path string, details ...string) {
	if !p.verbose {
		return
	}
	fmt.Fprintln(p.w, formatLine(label.render(verb), path, details...))
}

func (p *plainPresenter) problemLine(label labelStyle, verb string, ev Event) {
	var details []string
	if ev.Reason != "" {
		details = append(details, ev.Reason)
	}
	if ev.Error != nil {
		details = append(details, ev.Error.Error())
	}
	line := formatLine(label.render(verb), ev.Path, details...)

	// Verbose runs keep the whole report on one stream.
	w := p.errW
	if p.verbose || w == nil {
		w = p.w
	}
	fmt.Fprintln(w, line)
}

func (p *plainPresenter) printProgress() {
	if p.errW == nil || p.stats == nil {
		return
	}
	snap := p.stats.Snapshot()
	now := time.Now()
	rate := float64(snap.BytesTransferred-p.lastBytes) / now.Sub(p.lastTick).Seconds()
	p.lastBytes, p.lastTick = snap.BytesTransferred, now

	fmt.Fprintf(p.errW, "progress: considered %s  included %s  errors %s  %s\n",
		FormatCount(snap.Considered),
		FormatCount(snap.Included()),
		FormatCount(snap.Errored),
		FormatRate(rate),
	)
}

func (p *plainPresenter) Summary() string {
	if p.stats == nil {
		return ""
	}
	s := CompletionSummary(p.stats.Snapshot())
	if p.dryRun {
		s += "  (dry run)"
	}
	return s
}

func formatLine(label, path string, details ...string) string {
	var b strings.Builder
	b.WriteString(label)
	b.WriteString("  ")
	b.WriteString(path)
	for _, d := range details {
		if d == "" {
			continue
		}
		b.WriteString("  ")
		b.WriteString(d)
	}
	return b.String()
}

func pastTense(action string) string {
	switch action {
	case "move":
		return "moved"
	case "copy":
		return "copied"
	default:
		return action
	}
}
