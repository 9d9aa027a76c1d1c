// Package fdtable implements the virtual file-descriptor table (spec.md
// §4.B): pre-opens, path resolution across mount points, and fd
// allocation/reuse. The allocator is a bitmap of lowest-unused-first slots,
// grounded on the teacher's internal/wasi_snapshot_preview1/file.go
// fileTable, generalized from one concrete *file type to the three-way
// tagged sum {PreOpen, OpenFile, OpenDirectory} spec.md describes.
package fdtable

import (
	"context"
	"math/bits"
	"strings"

	"github.com/wasihost/runtime/hostfs"
	"github.com/wasihost/runtime/wasip1"
)

// FirstPreopenFd is the first fd assigned to a pre-open; fds 0, 1 and 2 are
// reserved for stdin/stdout/stderr and never appear in the table.
const FirstPreopenFd uint32 = 3

// PreOpen is an immutable mount: an absolute guest-visible path paired with
// the host directory handle backing it. The pre-open table is built once at
// invocation start and never mutated afterward.
type PreOpen struct {
	Path string
	Root hostfs.Dir
	FS   hostfs.FS
	Fd   uint32
}

// OpenFile is a regular-file fd's backing state (spec.md §3). position is
// mutated by fd_read/fd_write/fd_seek; the host handle is released on
// fd_close.
type OpenFile struct {
	Handle   hostfs.File
	Position int64
	Rights   wasip1.Rights
}

// OpenDirectory is a directory fd's backing state: a host directory handle
// plus a resumable enumeration keyed by a 0-based cookie.
type OpenDirectory struct {
	Handle   hostfs.Dir
	Cookie   wasip1.Dircookie
	Iterator hostfs.Entries
	Rights   wasip1.Rights
}

// kind tags which variant an entry holds.
type kind int

const (
	kindPreOpen kind = iota
	kindFile
	kindDir
)

type entry struct {
	kind    kind
	preOpen *PreOpen
	file    *OpenFile
	dir     *OpenDirectory
}

// Table maps fd -> {PreOpen | OpenFile | OpenDirectory}. Allocation policy
// is lowest unused non-negative integer, realized with the same bitmap
// strategy as the teacher's fileTable.
type Table struct {
	masks    []uint64
	entries  []*entry
	preOpens []*PreOpen
}

// NewTable builds the table's pre-open segment. Fds 0-2 are reserved and
// never allocated by the bitmap; pre-opens then receive fds starting at
// FirstPreopenFd, in the order given.
func NewTable(preOpens []*PreOpen) *Table {
	t := &Table{}
	t.grow(1)
	t.masks[0] |= 0b111 // reserve fds 0,1,2
	for _, p := range preOpens {
		fd := t.insert(&entry{kind: kindPreOpen, preOpen: p})
		p.Fd = fd
		t.preOpens = append(t.preOpens, p)
	}
	return t
}

func (t *Table) grow(n int) {
	if n = (n*8 + 7) / 8; n > len(t.masks) {
		masks := make([]uint64, n)
		copy(masks, t.masks)
		entries := make([]*entry, n*64)
		copy(entries, t.entries)
		t.masks = masks
		t.entries = entries
	}
}

func (t *Table) insert(e *entry) uint32 {
	offset := 0
insert:
	for i, mask := range t.masks[offset:] {
		if ^mask != 0 {
			shift := bits.TrailingZeros64(^mask)
			i += offset
			fd := uint32(i)*64 + uint32(shift)
			t.entries[fd] = e
			t.masks[i] = mask | uint64(1)<<uint(shift)
			return fd
		}
	}
	offset = len(t.masks)
	n := 2 * len(t.masks)
	if n == 0 {
		n = 1
	}
	t.grow(n)
	goto insert
}

func (t *Table) lookup(fd uint32) *entry {
	if int(fd) < len(t.entries) {
		return t.entries[fd]
	}
	return nil
}

func (t *Table) remove(fd uint32) *entry {
	index, shift := fd/64, fd%64
	if int(index) >= len(t.masks) {
		return nil
	}
	mask := t.masks[index]
	if mask&(1<<shift) == 0 {
		return nil
	}
	e := t.entries[fd]
	t.entries[fd] = nil
	t.masks[index] = mask &^ (1 << shift)
	return e
}

// Preopens returns the pre-open segment in insertion (fd) order.
func (t *Table) Preopens() []*PreOpen { return t.preOpens }

// GetPreOpen returns the pre-open mounted at fd, or an EBADF SystemError.
func (t *Table) GetPreOpen(fd uint32) (*PreOpen, error) {
	e := t.lookup(fd)
	if e == nil || e.kind != kindPreOpen {
		return nil, wasip1.NewSystemError(wasip1.EBADF)
	}
	return e.preOpen, nil
}

// GetFile returns the open file at fd, or an EBADF SystemError if fd is not an open
// file (including if it is 0/1/2, a pre-open, or a directory).
func (t *Table) GetFile(fd uint32) (*OpenFile, error) {
	e := t.lookup(fd)
	if e == nil || e.kind != kindFile {
		return nil, wasip1.NewSystemError(wasip1.EBADF)
	}
	return e.file, nil
}

// GetDir returns the open directory at fd, or an EBADF SystemError.
func (t *Table) GetDir(fd uint32) (*OpenDirectory, error) {
	e := t.lookup(fd)
	if e == nil || e.kind != kindDir {
		return nil, wasip1.NewSystemError(wasip1.EBADF)
	}
	return e.dir, nil
}

// InsertFile allocates a new fd for an already-opened file.
func (t *Table) InsertFile(f *OpenFile) uint32 {
	return t.insert(&entry{kind: kindFile, file: f})
}

// InsertDir allocates a new fd for an already-opened directory.
func (t *Table) InsertDir(d *OpenDirectory) uint32 {
	return t.insert(&entry{kind: kindDir, dir: d})
}

// Close releases fd's host resources and removes it from the table.
// Closing 0, 1 or 2 is a no-op success (stdio is not tracked here).
func (t *Table) Close(ctx context.Context, fd uint32) error {
	if fd < FirstPreopenFd { // fd in {0,1,2}
		return nil
	}
	e := t.lookup(fd)
	if e == nil {
		return wasip1.NewSystemError(wasip1.EBADF)
	}
	if e.kind == kindPreOpen {
		// Pre-opens are immutable for the lifetime of the invocation;
		// closing one is rejected the same as any other invalid fd use.
		return wasip1.NewSystemError(wasip1.EBADF)
	}
	t.remove(fd)
	switch e.kind {
	case kindFile:
		return e.file.Handle.Close(ctx)
	case kindDir:
		return e.dir.Handle.Close(ctx)
	}
	return nil
}

// Renumber closes `to` if present, then relocates `from`'s entry onto it.
func (t *Table) Renumber(ctx context.Context, from, to uint32) error {
	src := t.lookup(from)
	if src == nil {
		return wasip1.NewSystemError(wasip1.EBADF)
	}
	if dst := t.lookup(to); dst != nil {
		if err := t.Close(ctx, to); err != nil {
			return err
		}
	}
	t.remove(from)
	t.grow(int(to) + 1)
	shiftIdx, shiftBit := to/64, to%64
	t.masks[shiftIdx] |= 1 << shiftBit
	t.entries[to] = src
	return nil
}

// FindRelPath selects the pre-open whose path is the longest whole-segment
// prefix of absPath, and returns the remaining path relative to that
// pre-open's root.
func FindRelPath(preOpens []*PreOpen, absPath string) (*PreOpen, string, error) {
	var best *PreOpen
	bestLen := -1
	for _, p := range preOpens {
		if isPrefixSegment(p.Path, absPath) && len(p.Path) > bestLen {
			best = p
			bestLen = len(p.Path)
		}
	}
	if best == nil {
		return nil, "", wasip1.NewSystemError(wasip1.ENOENT)
	}
	rel := strings.TrimPrefix(absPath, best.Path)
	rel = strings.TrimPrefix(rel, "/")
	return best, rel, nil
}

// isPrefixSegment reports whether prefix is a whole path-segment prefix of
// path: "/sandbox" matches "/sandbox" and "/sandbox/x" but not "/sandbox2".
func isPrefixSegment(prefix, path string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	return path[len(prefix)] == '/'
}

// ResolveRelative splits relPath on '/' and rejects any ".." segment that
// would escape the owning pre-open, yielding an ENOTCAPABLE SystemError per spec.md
// §4.B. It returns the cleaned, escape-free relative path.
func ResolveRelative(relPath string) (string, error) {
	if strings.HasPrefix(relPath, "/") {
		return "", wasip1.NewSystemError(wasip1.ENOTCAPABLE)
	}
	depth := 0
	segments := strings.Split(relPath, "/")
	clean := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			depth--
			if depth < 0 {
				return "", wasip1.NewSystemError(wasip1.ENOTCAPABLE)
			}
			clean = clean[:len(clean)-1]
		default:
			depth++
			clean = append(clean, seg)
		}
	}
	return strings.Join(clean, "/"), nil
}
