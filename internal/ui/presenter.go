package ui

import (
	"io"

	"github.com/bamsammich/stash/internal/stats"
)

// Presenter consumes events and displays progress.
type Presenter interface {
	// Run consumes events until the channel closes. Blocks until done.
	Run(events <-chan Event) error
	// Summary returns the final summary line.
	Summary() string
}

// Config configures a Presenter.
type Config struct {
	Writer    io.Writer // per-file report and summary
	ErrWriter io.Writer // failures, warnings and periodic progress
	Stats     stats.Reader
	Verbose   bool // one line per file outcome
	Quiet     bool // nothing but the exit status
	Color     bool // style labels with the theme
	DryRun    bool
}

// NewPresenter creates the appropriate presenter based on configuration.
//
//nolint:ireturn // factory function returns interface by design
func NewPresenter(cfg Config) Presenter {
	if cfg.Quiet {
		return &quietPresenter{stats: cfg.Stats}
	}
	return &plainPresenter{
		w:       cfg.Writer,
		errW:    cfg.ErrWriter,
		stats:   cfg.Stats,
		verbose: cfg.Verbose,
		dryRun:  cfg.DryRun,
		theme:   newTheme(cfg.Color),
	}
}
