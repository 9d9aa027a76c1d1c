//go:build linux || darwin

package osfs

import (
	"io/fs"
	"syscall"
)

// platformStat extracts the device/inode pair from the OS's Stat_t so
// osfs, unlike the portable in-memory test filesystem, can resolve
// spec.md's inode-uniqueness open question for real directories: when the
// collaborator is backed by a genuine filesystem, callers deduplicating by
// (dev,ino) see stable values instead of the all-zero placeholder.
func platformStat(info fs.FileInfo) (dev, ino uint64, ok bool) {
	st, isStat := info.Sys().(*syscall.Stat_t)
	if !isStat {
		return 0, 0, false
	}
	return uint64(st.Dev), uint64(st.Ino), true
}
