package ui

import (
	"fmt"

	"github.com/bamsammich/stash/internal/stats"
)

// CompletionSummary builds the final summary line from a snapshot.
// Format: done ✓  considered 48,917  included 48,900  skipped 17  errors 0  warnings 0  size 2.1 GiB  time 3m 17s
func CompletionSummary(snap stats.Snapshot) string {
	icon := "✓"
	if snap.Errored > 0 {
		icon = "✗"
	}

	return fmt.Sprintf("done %s  considered %s  included %s  skipped %s  errors %s  warnings %s  size %s  time %s",
		icon,
		FormatCount(snap.Considered),
		FormatCount(snap.Included()),
		FormatCount(snap.Skipped),
		FormatCount(snap.Errored),
		FormatCount(snap.Warnings),
		FormatBytes(snap.BytesTransferred),
		FormatDuration(snap.Elapsed),
	)
}
