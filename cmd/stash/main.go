package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bamsammich/stash/internal/config"
	"github.com/bamsammich/stash/internal/engine"
	"github.com/bamsammich/stash/internal/event"
	"github.com/bamsammich/stash/internal/filter"
	"github.com/bamsammich/stash/internal/stats"
	"github.com/bamsammich/stash/internal/ui"
)

var version = "dev"

const (
	exitOK     = 0
	exitErrors = 1 // at least one file ended in ERROR
	exitFatal  = 2 // configuration error, interrupt, or internal failure
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// sizeFlag is a pflag.Value accepting byte counts with K/M/G/T suffixes.
type sizeFlag struct {
	n *int64
}

func (f sizeFlag) String() string {
	if f.n == nil {
		return "0"
	}
	return fmt.Sprintf("%d", *f.n)
}

func (sizeFlag) Type() string { return "size" }

func (f sizeFlag) Set(val string) error {
	n, err := filter.ParseSize(val)
	if err != nil {
		return err
	}
	*f.n = n
	return nil
}

var _ pflag.Value = sizeFlag{}

type options struct {
	source         string
	target         string
	dryRun         bool
	copyMode       bool
	minSize        int64
	verbose        bool
	quiet          bool
	workers        int
	verify         bool
	readOnly       bool
	link           bool
	journal        bool
	followSymlinks bool
	bwLimit        int64
	logFile        string
	showVersion    bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "stash --source DIR --target DIR [flags]",
		Short: "Archive a directory tree into a mirrored target tree",
		Long: `stash walks the source tree and moves (or, with --copy, copies) every
readable file of at least --min_size bytes to the same relative path under the
target. Unreadable files are reported and the run carries on; the exit status
is 1 if any file could not be archived.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.showVersion {
				fmt.Fprintf(stdout, "stash %s\n", version)
				return nil
			}
			return runArchive(cmd, &opts, stdout, stderr)
		},
	}

	f := rootCmd.Flags()
	f.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	f.StringVarP(&opts.source, "source", "s", "", "directory to archive from")
	f.StringVarP(&opts.target, "target", "t", "", "directory to archive into")
	f.BoolVar(&opts.dryRun, "dry", false, "report what would be archived without changing anything")
	f.BoolVar(&opts.copyMode, "copy", false, "copy files instead of moving them")
	f.Var(sizeFlag{&opts.minSize}, "min_size", "skip files smaller than SIZE (e.g. 128, 4K, 1M)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "print one line per file")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "print nothing; rely on the exit status")
	f.IntVarP(&opts.workers, "workers", "n", 1, "concurrent transfers (0: min(NumCPU*2, 32))")
	f.BoolVar(&opts.verify, "verify", false, "BLAKE3-check every copy before it is published")
	f.BoolVar(&opts.readOnly, "read_only", false, "remove write permission from archived files")
	f.BoolVar(&opts.link, "link", false, "leave a symlink to the archived file where each moved file was")
	f.BoolVar(&opts.journal, "journal", false, "record archived files in the state journal")
	f.BoolVar(&opts.followSymlinks, "follow_symlinks", true, "descend into symlinked directories")
	f.Var(sizeFlag{&opts.bwLimit}, "bwlimit", "bandwidth limit in bytes per second (e.g. 100M)")
	f.StringVar(&opts.logFile, "log", "", "write structured JSON log to FILE")
	rootCmd.MarkFlagsMutuallyExclusive("verbose", "quiet")

	rootCmd.AddCommand(newVerifyCmd(stdout))
	rootCmd.AddCommand(newDocsCmd())
	return rootCmd
}

func run(args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd(stdout, stderr)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}
	return exitOK
}

//nolint:revive // cognitive-complexity: wires config, logging, presenter and engine
func runArchive(cmd *cobra.Command, opts *options, stdout, stderr io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", config.Path(), err)
	}
	if err := applyConfigDefaults(cmd.Flags(), cfg.Defaults, opts); err != nil {
		return fmt.Errorf("config %s: %w", config.Path(), err)
	}
	ui.ApplyTheme(cfg.Theme)

	closeLog, err := setupLogging(opts, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	if opts.workers <= 0 {
		opts.workers = min(runtime.NumCPU()*2, 32)
	}

	mode := filter.Move
	if opts.copyMode {
		mode = filter.Copy
	}
	if opts.dryRun {
		slog.Info("dry run mode")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	events := make(chan event.Event, 256)

	// When --log is set, tee events through a logging goroutine
	// that writes structured records before forwarding to the presenter.
	presenterEvents := (<-chan event.Event)(events)
	if opts.logFile != "" {
		presenterEvents = teeToLog(events)
	}

	presenter := ui.NewPresenter(ui.Config{
		Writer:    stdout,
		ErrWriter: stderr,
		Stats:     collector,
		Verbose:   opts.verbose,
		Quiet:     opts.quiet,
		Color:     isTerminal(stdout),
		DryRun:    opts.dryRun,
	})

	var presenterErr error
	var presenterWg sync.WaitGroup
	presenterWg.Add(1)
	go func() {
		defer presenterWg.Done()
		presenterErr = presenter.Run(presenterEvents)
	}()

	result := engine.Run(ctx, engine.Config{
		Source:         opts.source,
		Target:         opts.target,
		Policy:         filter.Policy{MinSize: opts.minSize, Mode: mode},
		DryRun:         opts.dryRun,
		Workers:        opts.workers,
		Verify:         opts.verify,
		ReadOnly:       opts.readOnly,
		Link:           opts.link,
		FollowSymlinks: opts.followSymlinks,
		BWLimit:        opts.bwLimit,
		Journal:        opts.journal,
		Events:         events,
		Stats:          collector,
	})
	stop()
	close(events)
	presenterWg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(stderr, "presenter: %v\n", presenterErr)
	}

	var cfgErr *engine.ConfigError
	if errors.As(result.Err, &cfgErr) {
		return result.Err
	}

	if summary := presenter.Summary(); summary != "" {
		fmt.Fprintln(stdout, summary)
	}
	if result.JournalPath != "" {
		slog.Info("journal written", "path", result.JournalPath)
	}

	switch {
	case errors.Is(result.Err, context.Canceled):
		fmt.Fprintln(stderr, "interrupted")
		return &exitError{code: exitFatal}
	case result.Err != nil:
		slog.Error("archive failed", "error", result.Err)
		return &exitError{code: exitFatal}
	case result.Stats.Errored > 0:
		return &exitError{code: exitErrors}
	}
	return nil
}

// setupLogging installs the default slog logger: text on stderr, plus a
// JSON file at debug level when --log is set.
func setupLogging(opts *options, stderr io.Writer) (func(), error) {
	logLevel := slog.LevelWarn
	switch {
	case opts.quiet:
		logLevel = slog.LevelError
	case opts.verbose:
		logLevel = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: logLevel})

	var logHandler slog.Handler = textHandler
	closeLog := func() {}
	if opts.logFile != "" {
		lf, err := os.Create(opts.logFile)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		closeLog = func() { _ = lf.Close() }
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	slog.SetDefault(slog.New(logHandler))
	return closeLog, nil
}

func teeToLog(events <-chan event.Event) <-chan event.Event {
	teed := make(chan event.Event, 256)
	go func() {
		defer close(teed)
		for ev := range events {
			attrs := []slog.Attr{
				slog.String("type", ev.Type.String()),
				slog.String("path", ev.Path),
				slog.Int64("size", ev.Size),
			}
			if ev.Target != "" {
				attrs = append(attrs, slog.String("target", ev.Target))
			}
			if ev.Reason != "" {
				attrs = append(attrs, slog.String("reason", ev.Reason))
			}
			if ev.Error != nil {
				attrs = append(attrs, slog.String("error", ev.Error.Error()))
			}
			slog.LogAttrs(context.Background(), slog.LevelDebug, "stash.event", attrs...)
			teed <- ev
		}
	}()
	return teed
}

// applyConfigDefaults applies config file defaults for flags not explicitly
// set on the command line.
func applyConfigDefaults(flags *pflag.FlagSet, defaults config.DefaultsConfig, opts *options) error {
	setBool := func(name string, dst *bool, v *bool) {
		if v != nil && !flags.Changed(name) {
			*dst = *v
		}
	}
	setBool("copy", &opts.copyMode, defaults.Copy)
	setBool("verbose", &opts.verbose, defaults.Verbose)
	setBool("verify", &opts.verify, defaults.Verify)
	setBool("read_only", &opts.readOnly, defaults.ReadOnly)
	setBool("journal", &opts.journal, defaults.Journal)
	setBool("follow_symlinks", &opts.followSymlinks, defaults.FollowSymlinks)

	if defaults.Workers != nil && !flags.Changed("workers") {
		opts.workers = *defaults.Workers
	}
	if defaults.MinSize != nil && !flags.Changed("min_size") {
		if err := (sizeFlag{&opts.minSize}).Set(*defaults.MinSize); err != nil {
			return fmt.Errorf("min_size: %w", err)
		}
	}
	if defaults.BWLimit != nil && !flags.Changed("bwlimit") {
		if err := (sizeFlag{&opts.bwLimit}).Set(*defaults.BWLimit); err != nil {
			return fmt.Errorf("bwlimit: %w", err)
		}
	}
	if opts.quiet && opts.verbose && !flags.Changed("verbose") {
		opts.verbose = false
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && ui.IsTTY(f.Fd())
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
