package wasihost

import (
	"context"
	"io"

	"github.com/wasihost/runtime/fdtable"
	"github.com/wasihost/runtime/hostfs"
	"github.com/wasihost/runtime/wasip1"
)

const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
)

// FdClose delegates to the fd table. Closing 0/1/2 is a no-op success.
func (b *Binding) FdClose(ctx context.Context, fd uint32) error {
	return b.Table.Close(ctx, fd)
}

// FdRenumber delegates to the fd table.
func (b *Binding) FdRenumber(ctx context.Context, from, to uint32) error {
	return b.Table.Renumber(ctx, from, to)
}

func readIovecs(mem Memory, iovs, iovsLen uint32) ([]wasip1.Iovec, error) {
	out := make([]wasip1.Iovec, 0, iovsLen)
	for i := uint32(0); i < iovsLen; i++ {
		buf, ok := mem.Read(iovs+i*8, 8)
		if !ok {
			return nil, wasip1.NewSystemError(wasip1.EINVAL)
		}
		out = append(out, wasip1.UnmarshalIovec(buf))
	}
	return out, nil
}

// FdRead iterates the io-vector array, reading from stdin (fd 0) or the
// open file at its current position, stopping at the first short read and
// writing the total bytes read to nreadPtr. Cancellation is checked at
// each io-vector boundary (spec.md §5).
func (b *Binding) FdRead(ctx context.Context, mem Memory, fd uint32, iovs, iovsLen, nreadPtr uint32) error {
	vecs, err := readIovecs(mem, iovs, iovsLen)
	if err != nil {
		return err
	}

	var read func(p []byte) (int, error)
	var file *fdtable.OpenFile
	switch fd {
	case fdStdin:
		if b.Streams.Stdin == nil {
			return wasip1.NewSystemError(wasip1.EBADF)
		}
		read = func(p []byte) (int, error) { return b.Streams.Stdin.Read(ctx, p) }
	default:
		file, err = b.Table.GetFile(fd)
		if err != nil {
			return err
		}
		if !file.Rights.Has(wasip1.RightFdRead) {
			return wasip1.NewSystemError(wasip1.EACCES)
		}
		read = func(p []byte) (int, error) {
			n, rerr := file.Handle.ReadAt(ctx, p, file.Position)
			file.Position += int64(n)
			return n, rerr
		}
	}

	var total uint32
	for _, v := range vecs {
		if ctx.Err() != nil {
			return wasip1.NewSystemError(wasip1.ECANCELED)
		}
		buf := make([]byte, v.BufLen)
		n, rerr := read(buf)
		if n > 0 {
			if !mem.Write(v.BufPtr, buf[:n]) {
				return wasip1.NewSystemError(wasip1.EINVAL)
			}
			total += uint32(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return rerr
		}
		if n < len(buf) {
			break
		}
	}
	if !mem.WriteUint32Le(nreadPtr, total) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// FdPread is FdRead at an explicit offset, never mutating fd's position.
func (b *Binding) FdPread(ctx context.Context, mem Memory, fd uint32, iovs, iovsLen uint32, offset uint64, nreadPtr uint32) error {
	vecs, err := readIovecs(mem, iovs, iovsLen)
	if err != nil {
		return err
	}
	file, err := b.Table.GetFile(fd)
	if err != nil {
		return err
	}
	if !file.Rights.Has(wasip1.RightFdRead | wasip1.RightFdSeek) {
		return wasip1.NewSystemError(wasip1.EACCES)
	}
	pos := int64(offset)
	var total uint32
	for _, v := range vecs {
		if ctx.Err() != nil {
			return wasip1.NewSystemError(wasip1.ECANCELED)
		}
		buf := make([]byte, v.BufLen)
		n, rerr := file.Handle.ReadAt(ctx, buf, pos)
		pos += int64(n)
		if n > 0 {
			if !mem.Write(v.BufPtr, buf[:n]) {
				return wasip1.NewSystemError(wasip1.EINVAL)
			}
			total += uint32(n)
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return rerr
		}
		if n < len(buf) {
			break
		}
	}
	if !mem.WriteUint32Le(nreadPtr, total) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// FdWrite iterates the io-vector array, writing to stdout/stderr (fd 1/2)
// or the open file at its current position.
func (b *Binding) FdWrite(ctx context.Context, mem Memory, fd uint32, iovs, iovsLen, nwrittenPtr uint32) error {
	vecs, err := readIovecs(mem, iovs, iovsLen)
	if err != nil {
		return err
	}

	var write func(p []byte) (int, error)
	var file *fdtable.OpenFile
	switch fd {
	case fdStdout:
		write = func(p []byte) (int, error) { return b.Streams.Stdout.Write(ctx, p) }
	case fdStderr:
		write = func(p []byte) (int, error) { return b.Streams.Stderr.Write(ctx, p) }
	default:
		file, err = b.Table.GetFile(fd)
		if err != nil {
			return err
		}
		if !file.Rights.Has(wasip1.RightFdWrite) {
			return wasip1.NewSystemError(wasip1.EACCES)
		}
		write = func(p []byte) (int, error) {
			n, werr := file.Handle.WriteAt(ctx, p, file.Position)
			file.Position += int64(n)
			return n, werr
		}
	}

	var total uint32
	for _, v := range vecs {
		if ctx.Err() != nil {
			return wasip1.NewSystemError(wasip1.ECANCELED)
		}
		buf, ok := mem.Read(v.BufPtr, v.BufLen)
		if !ok {
			return wasip1.NewSystemError(wasip1.EINVAL)
		}
		n, werr := write(buf)
		total += uint32(n)
		if werr != nil {
			return werr
		}
		if uint32(n) < v.BufLen {
			break
		}
	}
	if !mem.WriteUint32Le(nwrittenPtr, total) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// FdPwrite is FdWrite at an explicit offset, never mutating fd's position.
func (b *Binding) FdPwrite(ctx context.Context, mem Memory, fd uint32, iovs, iovsLen uint32, offset uint64, nwrittenPtr uint32) error {
	vecs, err := readIovecs(mem, iovs, iovsLen)
	if err != nil {
		return err
	}
	file, err := b.Table.GetFile(fd)
	if err != nil {
		return err
	}
	if !file.Rights.Has(wasip1.RightFdWrite | wasip1.RightFdSeek) {
		return wasip1.NewSystemError(wasip1.EACCES)
	}
	pos := int64(offset)
	var total uint32
	for _, v := range vecs {
		if ctx.Err() != nil {
			return wasip1.NewSystemError(wasip1.ECANCELED)
		}
		buf, ok := mem.Read(v.BufPtr, v.BufLen)
		if !ok {
			return wasip1.NewSystemError(wasip1.EINVAL)
		}
		n, werr := file.Handle.WriteAt(ctx, buf, pos)
		pos += int64(n)
		total += uint32(n)
		if werr != nil {
			return werr
		}
		if uint32(n) < v.BufLen {
			break
		}
	}
	if !mem.WriteUint32Le(nwrittenPtr, total) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// FdSeek updates position to base + offset where base is current/end/0,
// and writes the new position. No bounds-clamping; a negative result is
// rejected with EINVAL.
func (b *Binding) FdSeek(ctx context.Context, mem Memory, fd uint32, offset int64, whence wasip1.Whence, newPosPtr uint32) error {
	file, err := b.Table.GetFile(fd)
	if err != nil {
		return err
	}
	rights := wasip1.RightFdSeek
	if offset == 0 && whence == wasip1.WhenceCur {
		rights = wasip1.RightFdTell
	}
	if !file.Rights.Has(rights) {
		return wasip1.NewSystemError(wasip1.EACCES)
	}

	var base int64
	switch whence {
	case wasip1.WhenceSet:
		base = 0
	case wasip1.WhenceCur:
		base = file.Position
	case wasip1.WhenceEnd:
		info, serr := file.Handle.Stat(ctx)
		if serr != nil {
			return serr
		}
		base = info.Size
	default:
		return wasip1.NewSystemError(wasip1.EINVAL)
	}

	newPos := base + offset
	if newPos < 0 {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	file.Position = newPos
	if !mem.WriteUint64Le(newPosPtr, uint64(newPos)) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// FdTell writes the current position.
func (b *Binding) FdTell(ctx context.Context, mem Memory, fd uint32, offsetPtr uint32) error {
	return b.FdSeek(ctx, mem, fd, 0, wasip1.WhenceCur, offsetPtr)
}

// FdFdstatGet reports filetype, flags and rights for fd. Fds 0/1/2 are
// CharacterDevice; open files are RegularFile; open directories are
// Directory. Rights base is reported as all bits, rights inheriting as all
// bits except PathSymlink, per spec.md §4.D.
func (b *Binding) FdFdstatGet(ctx context.Context, mem Memory, fd uint32, statPtr uint32) error {
	var ft wasip1.Filetype
	switch {
	case fd < 3:
		ft = wasip1.FiletypeCharacterDevice
	default:
		if _, err := b.Table.GetFile(fd); err == nil {
			ft = wasip1.FiletypeRegularFile
		} else if _, err := b.Table.GetDir(fd); err == nil {
			ft = wasip1.FiletypeDirectory
		} else {
			return wasip1.NewSystemError(wasip1.EBADF)
		}
	}
	stat := wasip1.Fdstat{
		Filetype:         ft,
		RightsBase:       wasip1.RightsAll,
		RightsInheriting: wasip1.RightsInheritingAll,
	}
	b2 := stat.Marshal()
	if !mem.Write(statPtr, b2[:]) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// FdFdstatSetFlags is unimplemented; spec.md §4.D requires NOSYS.
func (b *Binding) FdFdstatSetFlags(ctx context.Context, fd uint32, flags wasip1.Fdflags) error {
	return wasip1.NewSystemError(wasip1.ENOSYS)
}

func (b *Binding) getFileStat(ctx context.Context, fd uint32) (wasip1.Filestat, error) {
	if file, err := b.Table.GetFile(fd); err == nil {
		info, serr := file.Handle.Stat(ctx)
		if serr != nil {
			return wasip1.Filestat{}, serr
		}
		return fileInfoToFilestat(info, wasip1.FiletypeRegularFile), nil
	}
	if dir, err := b.Table.GetDir(fd); err == nil {
		info, serr := dir.Handle.Stat(ctx)
		if serr != nil {
			return wasip1.Filestat{}, serr
		}
		return fileInfoToFilestat(info, wasip1.FiletypeDirectory), nil
	}
	if pre, err := b.Table.GetPreOpen(fd); err == nil {
		info, serr := pre.Root.Stat(ctx)
		if serr != nil {
			return wasip1.Filestat{}, serr
		}
		return fileInfoToFilestat(info, wasip1.FiletypeDirectory), nil
	}
	return wasip1.Filestat{}, wasip1.NewSystemError(wasip1.EBADF)
}

// fileInfoToFilestat realizes spec.md §4.D's _getFileStat: for a regular
// file, size/atime/mtime/ctime come from the host; for a directory they are
// all zero. dev/ino pass through whatever the host collaborator reported
// (zero unless it can offer stable identifiers, e.g. hostfs/osfs); nlink is
// always zero.
func fileInfoToFilestat(info hostfs.FileInfo, ft wasip1.Filetype) wasip1.Filestat {
	if ft == wasip1.FiletypeDirectory {
		return wasip1.Filestat{Dev: info.Dev, Ino: info.Ino, Filetype: ft}
	}
	ts := wasip1.Timestamp(info.LastModified.UnixNano())
	return wasip1.Filestat{
		Dev:        info.Dev,
		Ino:        info.Ino,
		Filetype:   ft,
		Size:       uint64(info.Size),
		AccessTime: ts,
		ModTime:    ts,
		ChangeTime: ts,
	}
}

// FdFilestatGet implements spec.md's _getFileStat for a file descriptor.
func (b *Binding) FdFilestatGet(ctx context.Context, mem Memory, fd uint32, statPtr uint32) error {
	stat, err := b.getFileStat(ctx, fd)
	if err != nil {
		return err
	}
	buf := stat.Marshal()
	if !mem.Write(statPtr, buf[:]) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// FdFilestatSetSize truncates or extends the file's length.
func (b *Binding) FdFilestatSetSize(ctx context.Context, fd uint32, size uint64) error {
	file, err := b.Table.GetFile(fd)
	if err != nil {
		return err
	}
	if !file.Rights.Has(wasip1.RightFdFilestatSetSize) {
		return wasip1.NewSystemError(wasip1.EACCES)
	}
	return file.Handle.SetSize(ctx, int64(size))
}

// FdDatasync and FdSync flush file buffers; no-op for stdio and for
// fds without any buffered state.
func (b *Binding) FdDatasync(ctx context.Context, fd uint32) error { return b.flush(ctx, fd) }
func (b *Binding) FdSync(ctx context.Context, fd uint32) error    { return b.flush(ctx, fd) }

func (b *Binding) flush(ctx context.Context, fd uint32) error {
	if fd < 3 {
		return nil
	}
	file, err := b.Table.GetFile(fd)
	if err != nil {
		return nil
	}
	return file.Handle.Flush(ctx)
}
