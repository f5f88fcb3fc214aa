package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	ScanStarted Type = iota + 1
	ScanComplete
	FileTransferred
	FileSimulated
	FileNoop
	FileSkipped
	FileFailed
	FileWarning
)

var typeNames = [...]string{
	ScanStarted:     "ScanStarted",
	ScanComplete:    "ScanComplete",
	FileTransferred: "FileTransferred",
	FileSimulated:   "FileSimulated",
	FileNoop:        "FileNoop",
	FileSkipped:     "FileSkipped",
	FileFailed:      "FileFailed",
	FileWarning:     "FileWarning",
}

func (t Type) String() string {
	if int(t) < len(typeNames) && typeNames[t] != "" {
		return typeNames[t]
	}
	return "Unknown"
}

// Terminal reports whether t closes out a file. Every file the walker
// produces gets exactly one terminal event.
func (t Type) Terminal() bool {
	switch t {
	case FileTransferred, FileSimulated, FileNoop, FileSkipped, FileFailed:
		return true
	default:
		return false
	}
}

// Event represents a single progress event from the engine.
type Event struct {
	Type      Type
	Timestamp time.Time
	Path      string // relative path
	Target    string // absolute target path, when one was planned
	Action    string // copy, move or simulate
	Reason    string // skip/failure reason
	Size      int64
	Total     int64 // files considered (ScanComplete)
	TotalSize int64 // bytes considered (ScanComplete)
	Error     error
	WorkerID  int
}
