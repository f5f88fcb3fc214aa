//go:build linux

package platform

import (
	"errors"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for dst so a full disk shows up before
// any data is written. Filesystems without fallocate(2) are left alone.
func preallocate(dst *os.File, size int64) {
	if size <= 0 {
		return
	}
	//nolint:gosec // G115: fd fits in int
	err := unix.Fallocate(int(dst.Fd()), 0, 0, size)
	if err != nil && !errors.Is(err, unix.EOPNOTSUPP) && !errors.Is(err, unix.ENOSYS) {
		slog.Debug("fallocate failed", "path", dst.Name(), "size", size, "error", err)
	}
}
