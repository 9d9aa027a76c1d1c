// Package osfs adapts a real OS directory to the hostfs.FS contract. It is
// the one concrete, in-repo collaborator: synchronous underneath (the OS
// call simply runs to completion on the calling goroutine), but it still
// satisfies hostfs's context-aware, error-returning shape, which is all the
// Asyncify Controller needs to decide whether a WASI call must suspend the
// guest. Grounded on the teacher's wasi/fs.go DirFS/dirFS/dirFile, adapted
// from io/fs-style synchronous signatures to hostfs's async-shaped contract.
package osfs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/wasihost/runtime/hostfs"
)

// New returns a hostfs.FS backed by the real OS directory at root.
//
// Like os.DirFS, this does not provide a strong isolation model: following
// a symlink or opening ".." can still escape root. The fd table's own
// path-resolution rule (fdtable package) is the layer that rejects ".."
// segments before they ever reach this adapter.
func New(root string) (hostfs.FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &dirFS{root: abs}, nil
}

type dirFS struct{ root string }

func (d *dirFS) path(rel string) string {
	return filepath.Join(d.root, filepath.FromSlash(rel))
}

func (d *dirFS) Root(ctx context.Context) (hostfs.Dir, error) {
	return &dir{fsys: d, path: d.root}, nil
}

func (d *dirFS) GetFileOrDir(ctx context.Context, relPath string, kind hostfs.Kind, flags hostfs.OpenFlags) (hostfs.Handle, error) {
	full := d.path(relPath)

	info, statErr := os.Lstat(full)
	exists := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return nil, statErr
	}

	if exists && flags.Create && flags.Exclusive {
		return nil, hostfs.ErrExists
	}
	if !exists && !flags.Create {
		return nil, hostfs.ErrNotFound
	}
	if exists && flags.Directory && !info.IsDir() {
		return nil, hostfs.ErrInvalidArgument
	}

	wantDir := kind == hostfs.KindDir || flags.Directory || (exists && info.IsDir() && kind == hostfs.KindAny)
	if wantDir {
		if !exists {
			if err := os.Mkdir(full, 0o755); err != nil {
				return nil, err
			}
		}
		return &dir{fsys: d, path: full}, nil
	}

	oflags := os.O_RDWR
	if !exists {
		oflags |= os.O_CREATE
	}
	if flags.Truncate {
		oflags |= os.O_TRUNC
	}
	f, err := os.OpenFile(full, oflags, 0o644)
	if err != nil {
		return nil, err
	}
	return &file{f: f}, nil
}

func (d *dirFS) Delete(ctx context.Context, relPath string, recursive bool) error {
	full := d.path(relPath)
	if recursive {
		return os.RemoveAll(full)
	}
	return os.Remove(full)
}

type file struct{ f *os.File }

func (h *file) IsDir() bool       { return false }
func (h *file) AsFile() hostfs.File { return h }
func (h *file) AsDir() hostfs.Dir   { panic("osfs: not a directory") }

func (h *file) Stat(ctx context.Context) (hostfs.FileInfo, error) {
	info, err := h.f.Stat()
	if err != nil {
		return hostfs.FileInfo{}, err
	}
	return statToFileInfo(info), nil
}

func (h *file) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	return h.f.ReadAt(p, off)
}

func (h *file) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	return h.f.WriteAt(p, off)
}

func (h *file) Flush(ctx context.Context) error    { return h.f.Sync() }
func (h *file) SetSize(ctx context.Context, n int64) error { return h.f.Truncate(n) }
func (h *file) Close(ctx context.Context) error    { return h.f.Close() }

type dir struct {
	fsys *dirFS
	path string
}

func (h *dir) IsDir() bool       { return true }
func (h *dir) AsFile() hostfs.File { panic("osfs: not a file") }
func (h *dir) AsDir() hostfs.Dir   { return h }

func (h *dir) Stat(ctx context.Context) (hostfs.FileInfo, error) {
	info, err := os.Stat(h.path)
	if err != nil {
		return hostfs.FileInfo{}, err
	}
	return statToFileInfo(info), nil
}

func (h *dir) Close(ctx context.Context) error { return nil }

func (h *dir) GetEntries(ctx context.Context, pos int) (hostfs.Entries, error) {
	ents, err := os.ReadDir(h.path)
	if err != nil {
		return nil, err
	}
	if pos > len(ents) {
		pos = len(ents)
	}
	return &dirEntries{ents: ents[pos:]}, nil
}

type dirEntries struct {
	ents    []fs.DirEntry
	pending *hostfs.Entry
}

func (e *dirEntries) Next(ctx context.Context) (hostfs.Entry, bool, error) {
	if e.pending != nil {
		ent := *e.pending
		e.pending = nil
		return ent, true, nil
	}
	if len(e.ents) == 0 {
		return hostfs.Entry{}, false, nil
	}
	next := e.ents[0]
	e.ents = e.ents[1:]
	return hostfs.Entry{Name: next.Name(), Dir: next.IsDir()}, true, nil
}

func (e *dirEntries) Revert(entry hostfs.Entry) {
	e.pending = &entry
}

func statToFileInfo(info fs.FileInfo) hostfs.FileInfo {
	fi := hostfs.FileInfo{
		Size:         info.Size(),
		Dir:          info.IsDir(),
		LastModified: info.ModTime(),
	}
	if dev, ino, ok := platformStat(info); ok {
		fi.Dev, fi.Ino = dev, ino
	}
	return fi
}
