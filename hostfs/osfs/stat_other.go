//go:build !linux && !darwin

package osfs

import "io/fs"

func platformStat(info fs.FileInfo) (dev, ino uint64, ok bool) {
	return 0, 0, false
}
