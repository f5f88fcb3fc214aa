//go:build darwin

package scan

import (
	"os"
	"syscall"
	"time"
)

func statFields(info os.FileInfo) (DevIno, time.Time, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return DevIno{}, time.Time{}, false
	}
	//nolint:gosec // G115: dev_t is int32 on darwin, always non-negative
	return DevIno{Dev: uint64(stat.Dev), Ino: stat.Ino},
		time.Unix(stat.Atimespec.Sec, stat.Atimespec.Nsec), true
}
