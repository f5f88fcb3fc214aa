//go:build linux

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
	return DevIno{Dev: stat.Dev, Ino: stat.Ino}, time.Unix(stat.Atim.Sec, stat.Atim.Nsec), true
}
