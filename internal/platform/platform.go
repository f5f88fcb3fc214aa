// Package platform wraps the OS-specific primitives used to move file data:
// kernel-assisted copies, no-clobber renames and timestamp updates.
package platform

import "os"

// CopyMethod identifies which syscall/strategy was used for a copy.
type CopyMethod int

const (
	ReadWrite     CopyMethod = iota
	CopyFileRange            // Linux copy_file_range(2)
	Sendfile                 // Linux sendfile(2)
)

func (m CopyMethod) String() string {
	switch m {
	case ReadWrite:
		return "read_write"
	case CopyFileRange:
		return "copy_file_range"
	case Sendfile:
		return "sendfile"
	default:
		return "unknown"
	}
}

// CopyResult reports the outcome of a copy operation.
type CopyResult struct {
	BytesWritten int64
	Method       CopyMethod
}

// CopyFileParams describes what to copy. A zero Length copies from
// SrcOffset to SrcSize.
type CopyFileParams struct {
	DstFd     *os.File
	SrcPath   string
	SrcOffset int64
	SrcSize   int64
	Length    int64
}

func copyLength(params CopyFileParams) int64 {
	if params.Length > 0 {
		return params.Length
	}
	return params.SrcSize - params.SrcOffset
}
