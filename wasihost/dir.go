package wasihost

import (
	"context"

	"github.com/wasihost/runtime/wasip1"
)

// FdPrestatGet reports {type=Directory, nameLen} if fd is a pre-open,
// else EBADF.
func (b *Binding) FdPrestatGet(ctx context.Context, mem Memory, fd uint32, prestatPtr uint32) error {
	pre, err := b.Table.GetPreOpen(fd)
	if err != nil {
		return err
	}
	p := wasip1.Prestat{Type: wasip1.FiletypeDirectory, NameLen: uint32(len(pre.Path))}
	buf := p.Marshal()
	if !mem.Write(prestatPtr, buf[:]) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// FdPrestatDirName writes the pre-open's absolute path (no trailing NUL)
// up to pathLen bytes.
func (b *Binding) FdPrestatDirName(ctx context.Context, mem Memory, fd uint32, pathPtr, pathLen uint32) error {
	pre, err := b.Table.GetPreOpen(fd)
	if err != nil {
		return err
	}
	if uint32(len(pre.Path)) > pathLen {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	if !mem.Write(pathPtr, []byte(pre.Path)) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// readDirChunkSize mirrors the teacher's context.go constant of the same
// name. FdReaddir does not use it: it pulls entries one at a time and
// checks the guest buffer's remaining room before each one.
const readDirChunkSize = 10

// FdReaddir enumerates directory entries starting at ordinal cookie. Each
// entry is emitted as a dirent header (next=cookie+1, ino, nameLen, type)
// followed by the raw name; when the next entry would not fit in the
// remaining guest buffer, it is reverted on the host-side iterator and
// enumeration stops. Writes the total bytes used.
func (b *Binding) FdReaddir(ctx context.Context, mem Memory, fd uint32, buf uint32, bufLen uint32, cookie wasip1.Dircookie, usedPtr uint32) error {
	dir, err := b.Table.GetDir(fd)
	if err != nil {
		return err
	}
	if !dir.Rights.Has(wasip1.RightFdReaddir) {
		return wasip1.NewSystemError(wasip1.EACCES)
	}

	if dir.Iterator == nil || dir.Cookie != cookie {
		it, ierr := dir.Handle.GetEntries(ctx, int(cookie))
		if ierr != nil {
			return ierr
		}
		dir.Iterator = it
		dir.Cookie = cookie
	}

	var used uint32
	for {
		if ctx.Err() != nil {
			return wasip1.NewSystemError(wasip1.ECANCELED)
		}
		entry, ok, nerr := dir.Iterator.Next(ctx)
		if nerr != nil {
			return nerr
		}
		if !ok {
			break
		}

		ft := wasip1.FiletypeRegularFile
		if entry.Dir {
			ft = wasip1.FiletypeDirectory
		}
		d := wasip1.Dirent{
			Next:    dir.Cookie + 1,
			Namelen: uint32(len(entry.Name)),
			Type:    ft,
		}
		entrySize := uint32(24) + d.Namelen
		if used+entrySize > bufLen {
			dir.Iterator.Revert(entry)
			break
		}

		hdr := d.Marshal()
		if !mem.Write(buf+used, hdr[:]) || !mem.Write(buf+used+24, []byte(entry.Name)) {
			return wasip1.NewSystemError(wasip1.EINVAL)
		}
		used += entrySize
		dir.Cookie++
	}

	if !mem.WriteUint32Le(usedPtr, used) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}
