//go:build darwin

package platform

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// SetFileTimes sets atime and mtime on an open file. Darwin lacks
// AT_EMPTY_PATH, so the path is used.
func SetFileTimes(fd *os.File, accTime, modTime time.Time) error {
	times := []unix.Timespec{
		unix.NsecToTimespec(accTime.UnixNano()),
		unix.NsecToTimespec(modTime.UnixNano()),
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, fd.Name(), times, 0); err != nil {
		return fmt.Errorf("utimensat: %w", err)
	}
	return nil
}
