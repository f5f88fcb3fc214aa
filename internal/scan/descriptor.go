package scan

import (
	"os"
	"time"
)

// DevIno uniquely identifies an inode. The walker uses it to recognise
// directories it has already descended into.
type DevIno struct {
	Dev uint64
	Ino uint64
}

// FileDescriptor describes one regular file found under the source root.
// Values are immutable once yielded.
type FileDescriptor struct {
	Path     string // absolute source path
	RelPath  string // path relative to the source root
	ModTime  time.Time
	AccTime  time.Time
	DevIno   DevIno
	Size     int64
	Mode     os.FileMode
	Readable bool
	IsDir    bool // set only on descriptors paired with a traversal error
}
