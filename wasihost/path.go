package wasihost

import (
	"context"

	"github.com/wasihost/runtime/fdtable"
	"github.com/wasihost/runtime/hostfs"
	"github.com/wasihost/runtime/wasip1"
)

func (b *Binding) readPath(mem Memory, pathPtr, pathLen uint32) (string, error) {
	raw, ok := mem.Read(pathPtr, pathLen)
	if !ok {
		return "", wasip1.NewSystemError(wasip1.EINVAL)
	}
	return string(raw), nil
}

// PathOpen resolves pathPtr/pathLen against dirFd's pre-open, applies the
// creation/exclusive/truncate/directory flags, and allocates a new fd.
// fsFlags must be either zero or exactly NonBlock (which is cleared
// silently); any other bit returns NOSYS, per spec.md §4.D.
func (b *Binding) PathOpen(ctx context.Context, mem Memory, dirFd uint32, _ wasip1.Lookupflags, pathPtr, pathLen uint32, oflags wasip1.Oflags, rightsBase, rightsInheriting wasip1.Rights, fsFlags wasip1.Fdflags, fdPtr uint32) error {
	if fsFlags&^wasip1.FdflagsNonBlock != 0 {
		return wasip1.NewSystemError(wasip1.ENOSYS)
	}

	pre, err := b.Table.GetPreOpen(dirFd)
	if err != nil {
		return err
	}
	relPath, err := b.readPath(mem, pathPtr, pathLen)
	if err != nil {
		return err
	}
	clean, err := fdtable.ResolveRelative(relPath)
	if err != nil {
		return err
	}

	flags := hostfs.OpenFlags{
		Create:    oflags&wasip1.OflagsCreate != 0,
		Exclusive: oflags&wasip1.OflagsExclusive != 0,
		Directory: oflags&wasip1.OflagsDirectory != 0,
		Truncate:  oflags&wasip1.OflagsTruncate != 0,
	}
	kind := hostfs.KindAny
	if flags.Directory {
		kind = hostfs.KindDir
	}

	handle, oerr := pre.FS.GetFileOrDir(ctx, clean, kind, flags)
	if oerr != nil {
		return oerr
	}

	var fd uint32
	if handle.IsDir() {
		if kind == hostfs.KindAny && !flags.Directory {
			// A directory was found where a file was requested without
			// O_DIRECTORY: spec.md §4.B says "opening a directory as a
			// file -> ISDIR".
			return wasip1.NewSystemError(wasip1.EISDIR)
		}
		fd = b.Table.InsertDir(&fdtable.OpenDirectory{Handle: handle.AsDir(), Rights: rightsBase})
	} else {
		if flags.Directory {
			return wasip1.NewSystemError(wasip1.ENOTDIR)
		}
		fd = b.Table.InsertFile(&fdtable.OpenFile{Handle: handle.AsFile(), Rights: rightsBase})
	}

	if !mem.WriteUint32Le(fdPtr, fd) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// PathCreateDirectory creates a directory at relPath under dirFd's
// pre-open, failing if one already exists.
func (b *Binding) PathCreateDirectory(ctx context.Context, mem Memory, dirFd uint32, pathPtr, pathLen uint32) error {
	pre, err := b.Table.GetPreOpen(dirFd)
	if err != nil {
		return err
	}
	relPath, err := b.readPath(mem, pathPtr, pathLen)
	if err != nil {
		return err
	}
	clean, err := fdtable.ResolveRelative(relPath)
	if err != nil {
		return err
	}
	_, err = pre.FS.GetFileOrDir(ctx, clean, hostfs.KindDir, hostfs.OpenFlags{Create: true, Exclusive: true, Directory: true})
	return err
}

// PathRemoveDirectory and PathUnlinkFile delete a directory entry relative
// to dirFd's pre-open.
func (b *Binding) PathRemoveDirectory(ctx context.Context, mem Memory, dirFd uint32, pathPtr, pathLen uint32) error {
	return b.pathDelete(ctx, mem, dirFd, pathPtr, pathLen, true)
}

func (b *Binding) PathUnlinkFile(ctx context.Context, mem Memory, dirFd uint32, pathPtr, pathLen uint32) error {
	return b.pathDelete(ctx, mem, dirFd, pathPtr, pathLen, false)
}

func (b *Binding) pathDelete(ctx context.Context, mem Memory, dirFd uint32, pathPtr, pathLen uint32, recursive bool) error {
	pre, err := b.Table.GetPreOpen(dirFd)
	if err != nil {
		return err
	}
	relPath, err := b.readPath(mem, pathPtr, pathLen)
	if err != nil {
		return err
	}
	clean, err := fdtable.ResolveRelative(relPath)
	if err != nil {
		return err
	}
	return pre.FS.Delete(ctx, clean, recursive)
}

// PathFilestatGet looks up the handle at relPath and computes its stat.
func (b *Binding) PathFilestatGet(ctx context.Context, mem Memory, dirFd uint32, _ wasip1.Lookupflags, pathPtr, pathLen uint32, statPtr uint32) error {
	pre, err := b.Table.GetPreOpen(dirFd)
	if err != nil {
		return err
	}
	relPath, err := b.readPath(mem, pathPtr, pathLen)
	if err != nil {
		return err
	}
	clean, err := fdtable.ResolveRelative(relPath)
	if err != nil {
		return err
	}
	handle, herr := pre.FS.GetFileOrDir(ctx, clean, hostfs.KindAny, hostfs.OpenFlags{})
	if herr != nil {
		return herr
	}
	var info hostfs.FileInfo
	ft := wasip1.FiletypeRegularFile
	if handle.IsDir() {
		ft = wasip1.FiletypeDirectory
		info, err = handle.AsDir().Stat(ctx)
	} else {
		info, err = handle.AsFile().Stat(ctx)
	}
	if err != nil {
		return err
	}
	stat := fileInfoToFilestat(info, ft)
	buf := stat.Marshal()
	if !mem.Write(statPtr, buf[:]) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// PathLink, PathSymlink, PathReadlink, PathRename and
// PathFilestatSetTimes are unimplemented; spec.md's Open Question on these
// leaves them NOSYS and instructs against speculative implementation.
func (b *Binding) PathLink(ctx context.Context) error                  { return wasip1.NewSystemError(wasip1.ENOSYS) }
func (b *Binding) PathSymlink(ctx context.Context) error               { return wasip1.NewSystemError(wasip1.ENOSYS) }
func (b *Binding) PathReadlink(ctx context.Context) error              { return wasip1.NewSystemError(wasip1.ENOSYS) }
func (b *Binding) PathRename(ctx context.Context) error                { return wasip1.NewSystemError(wasip1.ENOSYS) }
func (b *Binding) PathFilestatSetTimes(ctx context.Context) error      { return wasip1.NewSystemError(wasip1.ENOSYS) }
