package wasihost_test

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wasihost/runtime/hostfs"
)

// memFS is the portable in-memory hostfs.FS fixture SPEC_FULL.md's testable
// properties section calls for: no host OS dependency, deterministic, and
// (per hostfs.FileInfo's doc comment) reporting dev/ino as zero since it
// offers no stable identifiers of its own.
type memFS struct {
	mu   sync.Mutex
	root *memNode
}

type memNode struct {
	dir      bool
	data     []byte
	children map[string]*memNode
	modTime  time.Time
}

func newMemFS() *memFS {
	return &memFS{root: &memNode{dir: true, children: map[string]*memNode{}}}
}

// put pre-populates a file at relPath ("a/b.txt") with content, creating
// intermediate directories as needed. Test setup only.
func (f *memFS) put(relPath string, content []byte) {
	parts := strings.Split(relPath, "/")
	node := f.root
	for _, p := range parts[:len(parts)-1] {
		next, ok := node.children[p]
		if !ok {
			next = &memNode{dir: true, children: map[string]*memNode{}}
			node.children[p] = next
		}
		node = next
	}
	node.children[parts[len(parts)-1]] = &memNode{data: content, modTime: time.Now()}
}

func (f *memFS) walk(relPath string) (*memNode, *memNode, string, bool) {
	node := f.root
	if relPath == "" {
		return nil, node, "", true
	}
	parts := strings.Split(relPath, "/")
	parent := (*memNode)(nil)
	for i, p := range parts {
		if !node.dir {
			return nil, nil, "", false
		}
		parent = node
		next, ok := node.children[p]
		if !ok {
			if i == len(parts)-1 {
				return parent, nil, p, true
			}
			return nil, nil, "", false
		}
		node = next
	}
	return parent, node, parts[len(parts)-1], true
}

func (f *memFS) Root(ctx context.Context) (hostfs.Dir, error) {
	return &memDir{fs: f, node: f.root}, nil
}

func (f *memFS) GetFileOrDir(ctx context.Context, relPath string, kind hostfs.Kind, flags hostfs.OpenFlags) (hostfs.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent, node, name, ok := f.walk(relPath)
	if !ok {
		return nil, hostfs.ErrNotFound
	}
	if node == nil {
		if !flags.Create {
			return nil, hostfs.ErrNotFound
		}
		child := &memNode{dir: flags.Directory, modTime: time.Now()}
		if flags.Directory {
			child.children = map[string]*memNode{}
		}
		parent.children[name] = child
		node = child
	} else if flags.Exclusive && flags.Create {
		return nil, hostfs.ErrExists
	} else if flags.Truncate && !node.dir {
		node.data = nil
	}

	if kind == hostfs.KindDir && !node.dir {
		return nil, hostfs.ErrInvalidArgument
	}
	if node.dir {
		return &memHandle{dir: &memDir{fs: f, node: node}}, nil
	}
	return &memHandle{file: &memFile{fs: f, node: node}}, nil
}

func (f *memFS) Delete(ctx context.Context, relPath string, recursive bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	parent, node, name, ok := f.walk(relPath)
	if !ok || node == nil {
		return hostfs.ErrNotFound
	}
	if node.dir && !recursive && len(node.children) > 0 {
		return hostfs.ErrInvalidModification
	}
	if recursive != node.dir {
		// fd_unlink_file/path_remove_directory called against the wrong kind.
		return hostfs.ErrInvalidArgument
	}
	delete(parent.children, name)
	return nil
}

type memFile struct {
	fs   *memFS
	node *memNode
}

func (m *memFile) Stat(ctx context.Context) (hostfs.FileInfo, error) {
	m.fs.mu.Lock()
	defer m.fs.mu.Unlock()
	return hostfs.FileInfo{Size: int64(len(m.node.data)), LastModified: m.node.modTime}, nil
}

func (m *memFile) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	m.fs.mu.Lock()
	defer m.fs.mu.Unlock()
	if off >= int64(len(m.node.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.node.data[off:])
	var err error
	if off+int64(n) >= int64(len(m.node.data)) {
		err = io.EOF
	}
	return n, err
}

func (m *memFile) WriteAt(ctx context.Context, p []byte, off int64) (int, error) {
	m.fs.mu.Lock()
	defer m.fs.mu.Unlock()
	end := off + int64(len(p))
	if end > int64(len(m.node.data)) {
		grown := make([]byte, end)
		copy(grown, m.node.data)
		m.node.data = grown
	}
	copy(m.node.data[off:], p)
	m.node.modTime = time.Now()
	return len(p), nil
}

func (m *memFile) Flush(ctx context.Context) error   { return nil }
func (m *memFile) SetSize(ctx context.Context, size int64) error {
	m.fs.mu.Lock()
	defer m.fs.mu.Unlock()
	if size <= int64(len(m.node.data)) {
		m.node.data = m.node.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.node.data)
	m.node.data = grown
	return nil
}
func (m *memFile) Close(ctx context.Context) error { return nil }

type memDir struct {
	fs   *memFS
	node *memNode
}

func (d *memDir) Stat(ctx context.Context) (hostfs.FileInfo, error) {
	return hostfs.FileInfo{Dir: true, LastModified: d.node.modTime}, nil
}

func (d *memDir) GetEntries(ctx context.Context, pos int) (hostfs.Entries, error) {
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	names := make([]string, 0, len(d.node.children))
	for name := range d.node.children {
		names = append(names, name)
	}
	sort.Strings(names)
	entries := make([]hostfs.Entry, 0, len(names))
	for _, name := range names {
		entries = append(entries, hostfs.Entry{Name: name, Dir: d.node.children[name].dir})
	}
	if pos > len(entries) {
		pos = len(entries)
	}
	return &memEntries{entries: entries[pos:]}, nil
}

func (d *memDir) Close(ctx context.Context) error { return nil }

type memEntries struct {
	entries  []hostfs.Entry
	reverted *hostfs.Entry
}

func (e *memEntries) Next(ctx context.Context) (hostfs.Entry, bool, error) {
	if e.reverted != nil {
		entry := *e.reverted
		e.reverted = nil
		return entry, true, nil
	}
	if len(e.entries) == 0 {
		return hostfs.Entry{}, false, nil
	}
	entry := e.entries[0]
	e.entries = e.entries[1:]
	return entry, true, nil
}

func (e *memEntries) Revert(entry hostfs.Entry) { e.reverted = &entry }

type memHandle struct {
	file *memFile
	dir  *memDir
}

func (h *memHandle) IsDir() bool         { return h.dir != nil }
func (h *memHandle) AsFile() hostfs.File { return h.file }
func (h *memHandle) AsDir() hostfs.Dir   { return h.dir }
