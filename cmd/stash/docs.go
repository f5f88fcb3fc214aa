package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

// newDocsCmd renders man pages or markdown for the whole command tree.
func newDocsCmd() *cobra.Command {
	var dir, format string

	cmd := &cobra.Command{
		Use:    "gen-docs",
		Short:  "Generate documentation for stash",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}

			root := cmd.Root()
			root.DisableAutoGenTag = true

			switch format {
			case "man":
				return doc.GenManTree(root, &doc.GenManHeader{
					Title:   "STASH",
					Section: "1",
					Source:  "stash " + version,
				}, dir)
			case "markdown":
				return doc.GenMarkdownTree(root, dir)
			default:
				return fmt.Errorf("unknown format %q (use man or markdown)", format)
			}
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "docs", "output directory")
	cmd.Flags().StringVar(&format, "format", "man", "output format (man or markdown)")
	return cmd
}
