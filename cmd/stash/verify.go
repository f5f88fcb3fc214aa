package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/stash/internal/engine"
	"github.com/bamsammich/stash/internal/ui"
)

// newVerifyCmd checks a --copy archive against its source.
func newVerifyCmd(stdout io.Writer) *cobra.Command {
	var source, target string
	var workers int

	cmd := &cobra.Command{
		Use:   "verify --source DIR --target DIR",
		Short: "Compare archived files with their sources by BLAKE3 checksum",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result := engine.Verify(ctx, engine.VerifyConfig{
				SrcRoot: source,
				DstRoot: target,
				Workers: workers,
			})
			for _, e := range result.Errors {
				fmt.Fprintf(stdout, "MISMATCH  %s  source %s  target %s\n", e.Path, short(e.SrcHash), short(e.DstHash))
			}
			fmt.Fprintf(stdout, "verified %s  mismatched %s\n",
				ui.FormatCount(result.Verified), ui.FormatCount(result.Failed))

			if ctx.Err() != nil {
				return &exitError{code: exitFatal}
			}
			if result.Failed > 0 {
				return &exitError{code: exitErrors}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "", "directory the archive was copied from")
	cmd.Flags().StringVarP(&target, "target", "t", "", "archive directory")
	cmd.Flags().IntVarP(&workers, "workers", "n", 4, "concurrent hashers")
	_ = cmd.MarkFlagRequired("source") //nolint:errcheck // flag name is hardcoded
	_ = cmd.MarkFlagRequired("target") //nolint:errcheck // flag name is hardcoded
	return cmd
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	if hash == "" {
		return "-"
	}
	return hash
}
