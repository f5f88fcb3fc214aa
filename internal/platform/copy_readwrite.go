package platform

import (
	"errors"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

const bufferSize = 1 << 20 // 1 MiB

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

// CopyReadWrite copies with pread/pwrite through a pooled buffer. It works
// on every filesystem and is the last resort of CopyFile.
func CopyReadWrite(params CopyFileParams) (CopyResult, error) {
	srcFd, err := os.Open(params.SrcPath)
	if err != nil {
		return CopyResult{}, err
	}
	defer srcFd.Close()

	bufp := bufPool.Get().(*[]byte) //nolint:forcetypeassert // pool only holds *[]byte
	defer bufPool.Put(bufp)
	buf := *bufp

	offset := params.SrcOffset
	remaining := copyLength(params)
	srcRaw := int(srcFd.Fd())
	dstRaw := int(params.DstFd.Fd())

	var total int64
	for remaining > 0 {
		chunk := buf[:min(remaining, int64(bufferSize))]
		n, err := unix.Pread(srcRaw, chunk, offset)
		if err != nil {
			return CopyResult{BytesWritten: total, Method: ReadWrite}, err
		}
		if n == 0 {
			break
		}
		for written := 0; written < n; {
			w, err := unix.Pwrite(dstRaw, chunk[written:n], offset+int64(written))
			if err != nil {
				return CopyResult{BytesWritten: total + int64(written), Method: ReadWrite}, err
			}
			written += w
		}
		offset += int64(n)
		remaining -= int64(n)
		total += int64(n)
	}

	return CopyResult{BytesWritten: total, Method: ReadWrite}, nil
}

// isFallbackErr reports whether err means "try the next strategy" rather
// than a real I/O failure.
func isFallbackErr(err error) bool {
	return errors.Is(err, unix.ENOSYS) ||
		errors.Is(err, unix.EXDEV) ||
		errors.Is(err, unix.EINVAL) ||
		errors.Is(err, unix.ENOTSUP) ||
		errors.Is(err, unix.EOPNOTSUPP)
}
