package ui

import "github.com/bamsammich/stash/internal/stats"

// quietPresenter consumes events but produces no output. The exit status
// still reports errors.
type quietPresenter struct {
	stats stats.Reader
}

func (p *quietPresenter) Run(events <-chan Event) error {
	//nolint:revive // empty-block: events must be drained so the engine never blocks
	for range events {
	}
	return nil
}

func (p *quietPresenter) Summary() string {
	return ""
}
