package ui

import "github.com/bamsammich/stash/internal/event"

// Event is re-exported so presenters and their callers share one type.
type Event = event.Event

// Re-export event types for convenience.
const (
	ScanStarted     = event.ScanStarted
	ScanComplete    = event.ScanComplete
	FileTransferred = event.FileTransferred
	FileSimulated   = event.FileSimulated
	FileNoop        = event.FileNoop
	FileSkipped     = event.FileSkipped
	FileFailed      = event.FileFailed
	FileWarning     = event.FileWarning
)
