package engine

import (
	"github.com/bamsammich/stash/internal/filter"
	"github.com/bamsammich/stash/internal/scan"
)

// Action is what the executor does with a planned job.
type Action int

const (
	ActionSimulate Action = iota // dry run: report only
	ActionCopy
	ActionMove
	ActionNone // target already holds identical content
)

func (a Action) String() string {
	switch a {
	case ActionSimulate:
		return "simulate"
	case ActionCopy:
		return "copy"
	case ActionMove:
		return "move"
	case ActionNone:
		return "none"
	default:
		return "unknown"
	}
}

// Job is a planned transfer of one included file. It is consumed exactly
// once by the executor.
type Job struct {
	Source scan.FileDescriptor
	Target string
	Action Action
	Mode   filter.Mode
}

// Status is the terminal state of one file.
type Status int

const (
	StatusTransferred Status = iota
	StatusSimulated
	StatusNoop
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusTransferred:
		return "transferred"
	case StatusSimulated:
		return "simulated"
	case StatusNoop:
		return "noop"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result for one file. Warnings are problems that did not
// lose data, such as a source that could not be removed after a copy.
type Outcome struct {
	Source   scan.FileDescriptor
	Target   string
	Hash     string // BLAKE3 of the content, when it was computed
	Err      error
	Warnings []error
	Action   Action
	Status   Status
	Reason   filter.Reason
	Bytes    int64
}

func failed(job Job, reason filter.Reason, err error) Outcome {
	return Outcome{
		Source: job.Source,
		Target: job.Target,
		Action: job.Action,
		Status: StatusFailed,
		Reason: reason,
		Err:    err,
	}
}
