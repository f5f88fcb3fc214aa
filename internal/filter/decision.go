package filter

import "github.com/bamsammich/stash/internal/scan"

// Mode selects the transfer semantics for included files.
type Mode int

const (
	Move Mode = iota // relocate: source removed after success
	Copy             // duplicate: source retained
)

func (m Mode) String() string {
	switch m {
	case Move:
		return "move"
	case Copy:
		return "copy"
	default:
		return "unknown"
	}
}

// Policy is the active filter configuration for a run.
type Policy struct {
	MinSize int64 // 0 disables the size filter
	Mode    Mode
}

// Kind is the classification of a single file.
type Kind int

const (
	Include Kind = iota
	Skip
	Error
)

func (k Kind) String() string {
	switch k {
	case Include:
		return "include"
	case Skip:
		return "skip"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Reason explains a Skip or Error classification. The engine reuses it for
// failures discovered after classification.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonBelowMinSize
	ReasonUnreadable
	ReasonIOError
	ReasonTargetExists
	ReasonTraversal
)

var reasonNames = [...]string{
	ReasonNone:         "",
	ReasonBelowMinSize: "below-min-size",
	ReasonUnreadable:   "unreadable",
	ReasonIOError:      "io-error",
	ReasonTargetExists: "target-exists",
	ReasonTraversal:    "traversal-error",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return "unknown"
}

// Decision pairs a classification with its reason.
type Decision struct {
	Kind   Kind
	Reason Reason
}

// Classify applies policy to desc. It is pure: the same inputs always
// produce the same Decision.
func Classify(desc scan.FileDescriptor, policy Policy) Decision {
	if !desc.Readable {
		return Decision{Kind: Error, Reason: ReasonUnreadable}
	}
	if desc.Size < policy.MinSize {
		return Decision{Kind: Skip, Reason: ReasonBelowMinSize}
	}
	return Decision{Kind: Include}
}
