package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bamsammich/stash/internal/event"
	"github.com/bamsammich/stash/internal/filter"
	"github.com/bamsammich/stash/internal/scan"
	"github.com/bamsammich/stash/internal/stats"
)

const progressEvery = 1000

// Config describes an archive run.
type Config struct {
	Source         string
	Target         string
	Policy         filter.Policy
	DryRun         bool
	Workers        int   // <= 1 runs the sequential pipeline
	Verify         bool  // BLAKE3-check every copy before publishing it
	ReadOnly       bool  // strip write permission from archived files
	Link           bool  // leave a symlink at each moved source
	FollowSymlinks bool  // descend into symlinked directories
	BWLimit        int64 // bytes per second; 0 is unlimited
	Journal        bool  // record transfers in the state journal

	// Events receives progress events. It is not closed by Run.
	Events chan<- event.Event
	// Stats is optional; Run creates a collector when nil.
	Stats *stats.Collector
	// Ops replaces the filesystem calls used for moves.
	Ops FileOps
}

// Result is the outcome of a run. Per-file failures are counted in Stats;
// Err is set only for configuration errors and cancellation.
type Result struct {
	Stats       stats.Snapshot
	JournalPath string
	Err         error
}

type pipeline struct {
	cfg      Config
	stats    *stats.Collector
	planner  *Planner
	executor *Executor
	journal  *Journal
	locks    keyLocks
}

// Run walks the source tree and archives every included file into the
// target tree, blocking until complete.
func Run(ctx context.Context, cfg Config) Result {
	collector := cfg.Stats
	if collector == nil {
		collector = stats.NewCollector()
	}

	cfg, err := validate(cfg)
	if err != nil {
		return Result{Stats: collector.Snapshot(), Err: err}
	}

	p := &pipeline{
		cfg:     cfg,
		stats:   collector,
		planner: NewPlanner(cfg.Target, cfg.Policy.Mode, cfg.DryRun),
	}

	execCfg := ExecutorConfig{
		Ops:      cfg.Ops,
		Verify:   cfg.Verify,
		ReadOnly: cfg.ReadOnly,
		Link:     cfg.Link,
	}
	if cfg.BWLimit > 0 {
		execCfg.Limiter = NewBWLimiter(cfg.BWLimit)
	}
	p.executor = NewExecutor(execCfg)
	defer p.executor.Close()

	var journalPath string
	if cfg.Journal && !cfg.DryRun {
		j, err := OpenJournal(cfg.Source, cfg.Target)
		if err != nil {
			return Result{Stats: collector.Snapshot(), Err: &ConfigError{Field: "journal", Err: err}}
		}
		p.journal = j
		journalPath = j.Path()
		defer func() {
			if err := j.Close(); err != nil {
				slog.Error("journal close failed", "path", journalPath, "error", err)
			}
		}()
	}

	slog.Debug("run starting",
		"source", cfg.Source, "target", cfg.Target,
		"mode", cfg.Policy.Mode, "min_size", cfg.Policy.MinSize,
		"dry_run", cfg.DryRun, "workers", cfg.Workers)

	p.emit(ctx, event.Event{Type: event.ScanStarted, Path: cfg.Source})

	if cfg.Workers <= 1 {
		err = p.runSequential(ctx)
	} else {
		err = p.runConcurrent(ctx)
	}

	snap := collector.Snapshot()
	slog.Debug("run finished", "stats", snap.String())
	return Result{Stats: snap, JournalPath: journalPath, Err: err}
}

func validate(cfg Config) (Config, error) {
	if cfg.Source == "" {
		return cfg, &ConfigError{Field: "source", Err: errors.New("no source directory given")}
	}
	if cfg.Target == "" {
		return cfg, &ConfigError{Field: "target", Err: errors.New("no target directory given")}
	}

	src, err := filepath.Abs(cfg.Source)
	if err != nil {
		return cfg, &ConfigError{Field: "source", Err: err}
	}
	dst, err := filepath.Abs(cfg.Target)
	if err != nil {
		return cfg, &ConfigError{Field: "target", Err: err}
	}
	cfg.Source, cfg.Target = src, dst

	info, err := os.Stat(src)
	if err != nil {
		return cfg, &ConfigError{Field: "source", Err: err}
	}
	if !info.IsDir() {
		return cfg, &ConfigError{Field: "source", Err: fmt.Errorf("%s is not a directory", src)}
	}
	if !scan.Readable(src) {
		return cfg, &ConfigError{Field: "source", Err: fmt.Errorf("%s: %w", src, ErrUnreadable)}
	}

	if src == dst {
		return cfg, &ConfigError{Field: "target", Err: fmt.Errorf("%s is the source directory", dst)}
	}

	info, err = os.Stat(dst)
	switch {
	case err == nil:
		if !info.IsDir() {
			return cfg, &ConfigError{Field: "target", Err: fmt.Errorf("%s is not a directory", dst)}
		}
	case errors.Is(err, os.ErrNotExist):
		if !cfg.DryRun {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return cfg, &ConfigError{Field: "target", Err: err}
			}
		}
	default:
		return cfg, &ConfigError{Field: "target", Err: err}
	}

	return cfg, nil
}

// within reports whether dir lies inside (or is) root.
func within(dir, root string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (p *pipeline) walker() *scan.Walker {
	wcfg := scan.WalkerConfig{
		Root:           p.cfg.Source,
		FollowSymlinks: p.cfg.FollowSymlinks,
	}
	if within(p.cfg.Target, p.cfg.Source) {
		wcfg.Exclude = []string{p.cfg.Target}
	}
	return scan.NewWalker(wcfg)
}

func (p *pipeline) runSequential(ctx context.Context) error {
	var total, totalSize int64
	for desc, walkErr := range p.walker().Walk(ctx) {
		if ctx.Err() != nil {
			break
		}
		total++
		totalSize += desc.Size

		out, job, ok := p.classify(desc, walkErr)
		if ok {
			out = p.execute(ctx, job)
		}
		p.finish(ctx, out)
	}

	p.emit(ctx, event.Event{Type: event.ScanComplete, Total: total, TotalSize: totalSize})
	return ctx.Err()
}

type walked struct {
	desc scan.FileDescriptor
	err  error
}

func (p *pipeline) runConcurrent(ctx context.Context) error {
	// Stages stop taking new work when ctx is cancelled; a job already in
	// Execute runs to completion or removes its temp file.
	g, gctx := errgroup.WithContext(ctx)

	descs := make(chan walked, p.cfg.Workers*4)
	jobs := make(chan Job, p.cfg.Workers*2)

	g.Go(func() error {
		defer close(descs)
		var total, totalSize int64
		for desc, walkErr := range p.walker().Walk(gctx) {
			total++
			totalSize += desc.Size
			select {
			case descs <- walked{desc: desc, err: walkErr}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		p.emit(gctx, event.Event{Type: event.ScanComplete, Total: total, TotalSize: totalSize})
		return gctx.Err()
	})

	g.Go(func() error {
		defer close(jobs)
		for w := range descs {
			out, job, ok := p.classify(w.desc, w.err)
			if !ok {
				p.finish(gctx, out)
				continue
			}
			select {
			case jobs <- job:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for id := range p.cfg.Workers {
		g.Go(func() error {
			for job := range jobs {
				if gctx.Err() != nil {
					continue // drain without starting new work
				}
				out := p.execute(gctx, job)
				p.finishWorker(gctx, out, id)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// classify turns a walked entry into either a terminal outcome (skip,
// error) or a planned job. ok reports whether the job needs executing.
func (p *pipeline) classify(desc scan.FileDescriptor, walkErr error) (Outcome, Job, bool) {
	if walkErr != nil {
		return Outcome{Source: desc, Status: StatusFailed, Reason: filter.ReasonTraversal, Err: walkErr}, Job{}, false
	}

	d := filter.Classify(desc, p.cfg.Policy)
	switch d.Kind {
	case filter.Skip:
		slog.Debug("skipping file", "path", desc.Path, "size", desc.Size, "min_size", p.cfg.Policy.MinSize)
		return Outcome{Source: desc, Status: StatusSkipped, Reason: d.Reason}, Job{}, false
	case filter.Error:
		return Outcome{
			Source: desc,
			Status: StatusFailed,
			Reason: d.Reason,
			Err:    fmt.Errorf("%s: %w", desc.Path, ErrUnreadable),
		}, Job{}, false
	}

	job, err := p.planner.Plan(desc)
	if err != nil {
		return failed(job, reasonFor(err), err), job, false
	}
	return Outcome{}, job, true
}

func (p *pipeline) execute(ctx context.Context, job Job) Outcome {
	unlock := p.locks.lock(job.Target)
	defer unlock()
	return p.executor.Execute(ctx, job)
}

// consider counts desc and returns the running total including it.
func (p *pipeline) consider(desc scan.FileDescriptor) int64 {
	p.stats.AddBytesConsidered(desc.Size)
	return p.stats.AddConsidered(1)
}

func (p *pipeline) finish(ctx context.Context, out Outcome) {
	p.finishWorker(ctx, out, 0)
}

// finishWorker records a terminal outcome: counters, one terminal event,
// one event per warning, and the journal row. A file counts as considered
// only once it has an outcome, so the counters always add up.
func (p *pipeline) finishWorker(ctx context.Context, out Outcome, workerID int) {
	considered := p.consider(out.Source)

	ev := event.Event{
		Path:     out.Source.RelPath,
		Target:   out.Target,
		Size:     out.Source.Size,
		WorkerID: workerID,
	}
	if out.Status != StatusSkipped && out.Status != StatusFailed {
		ev.Action = out.Action.String()
	}

	switch out.Status {
	case StatusTransferred:
		p.stats.AddTransferred(1)
		p.stats.AddBytesTransferred(out.Bytes)
		ev.Type = event.FileTransferred
		p.record(out)
	case StatusSimulated:
		p.stats.AddSimulated(1)
		p.stats.AddBytesTransferred(out.Bytes)
		ev.Type = event.FileSimulated
		ev.Action = p.cfg.Policy.Mode.String()
	case StatusNoop:
		p.stats.AddNoop(1)
		ev.Type = event.FileNoop
	case StatusSkipped:
		p.stats.AddSkipped(1)
		ev.Type = event.FileSkipped
		ev.Reason = out.Reason.String()
	case StatusFailed:
		p.stats.AddErrored(1)
		ev.Type = event.FileFailed
		ev.Reason = out.Reason.String()
		ev.Error = out.Err
		slog.Debug("file failed", "path", out.Source.Path, "reason", out.Reason, "error", out.Err)
	}

	p.emit(ctx, ev)

	for _, w := range out.Warnings {
		p.stats.AddWarnings(1)
		slog.Debug("file warning", "path", out.Source.Path, "error", w)
		p.emit(ctx, event.Event{
			Type:     event.FileWarning,
			Path:     out.Source.RelPath,
			Target:   out.Target,
			Error:    w,
			WorkerID: workerID,
		})
	}

	if considered%progressEvery == 0 {
		n := p.stats.Snapshot()
		slog.Info("progress", "considered", considered, "included", n.Included(), "errors", n.Errored)
	}
}

func (p *pipeline) record(out Outcome) {
	if p.journal == nil {
		return
	}
	hash := out.Hash
	if hash == "" {
		// Renames and unverified copies never read the data.
		var err error
		if hash, err = HashFile(out.Target); err != nil {
			slog.Warn("journal hash failed", "path", out.Target, "error", err)
		}
	}
	err := p.journal.Record(JournalEntry{
		Source: out.Source.Path,
		Target: out.Target,
		Action: out.Action.String(),
		Size:   out.Bytes,
		Hash:   hash,
	})
	if err != nil {
		slog.Warn("journal write failed", "path", out.Source.Path, "error", err)
	}
}

// emit delivers ev unless the consumer has gone away with the context.
func (p *pipeline) emit(ctx context.Context, ev event.Event) {
	if p.cfg.Events == nil {
		return
	}
	ev.Timestamp = time.Now()
	select {
	case p.cfg.Events <- ev:
	case <-ctx.Done():
	}
}
