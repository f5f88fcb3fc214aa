//go:build linux

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// CopyFile copies with copy_file_range, then sendfile, then pread/pwrite,
// moving on whenever the kernel or filesystem rejects a strategy.
func CopyFile(params CopyFileParams) (CopyResult, error) {
	preallocate(params.DstFd, copyLength(params))

	for _, strategy := range []func(CopyFileParams) (CopyResult, error){
		copyFileRange,
		copySendfile,
	} {
		result, err := strategy(params)
		if err == nil || !isFallbackErr(err) || result.BytesWritten > 0 {
			return result, err
		}
	}
	return CopyReadWrite(params)
}

// kernelCopy drives a syscall that advances its own offsets until length
// bytes moved or the syscall reports EOF.
func kernelCopy(
	params CopyFileParams,
	method CopyMethod,
	step func(src, dst int, remaining int) (int, error),
) (CopyResult, error) {
	srcFd, err := os.Open(params.SrcPath)
	if err != nil {
		return CopyResult{}, err
	}
	defer srcFd.Close()

	src := int(srcFd.Fd())
	dst := int(params.DstFd.Fd())
	remaining := copyLength(params)

	var total int64
	for remaining > 0 {
		n, err := step(src, dst, int(remaining))
		if err != nil {
			return CopyResult{BytesWritten: total, Method: method}, err
		}
		if n == 0 {
			break
		}
		remaining -= int64(n)
		total += int64(n)
	}
	return CopyResult{BytesWritten: total, Method: method}, nil
}

func copyFileRange(params CopyFileParams) (CopyResult, error) {
	roff := params.SrcOffset
	woff := params.SrcOffset
	return kernelCopy(params, CopyFileRange, func(src, dst, remaining int) (int, error) {
		return unix.CopyFileRange(src, &roff, dst, &woff, remaining, 0)
	})
}

func copySendfile(params CopyFileParams) (CopyResult, error) {
	offset := params.SrcOffset
	if offset > 0 {
		if _, err := params.DstFd.Seek(offset, 0); err != nil {
			return CopyResult{}, err
		}
	}
	return kernelCopy(params, Sendfile, func(src, dst, remaining int) (int, error) {
		return unix.Sendfile(dst, src, &offset, remaining)
	})
}
