// Package wasihost implements the WASI snapshot_preview1 binding surface
// (spec.md §4.D): each exported function reads guest memory via wasip1,
// interacts with the fd table (package fdtable) and host streams, and
// writes guest memory back via wasip1, returning a wasip1.Errno.
//
// Grounded on the teacher's internal/wasi_snapshot_preview1/context.go (op
// bodies) and imports/wasi_snapshot_preview1/fs.go (wazero host-function
// registration idiom and struct byte-layout doc comments).
package wasihost

import (
	"context"
	"io"
	"io/fs"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/wasihost/runtime/fdtable"
	"github.com/wasihost/runtime/hostfs"
	"github.com/wasihost/runtime/wasip1"
)

// ModuleName is the wazero host module name guest imports are registered
// under, matching the WASI ABI's own module name.
const ModuleName = "wasi_snapshot_preview1"

// Stdin, Stdout and Stderr realize spec.md §6.4's stream contract. Both may
// be backed by something that blocks; Go's blocking io.Reader/io.Writer
// idiom is already the right shape here.
type Stdin interface {
	Read(ctx context.Context, p []byte) (int, error)
}

type Stdout interface {
	Write(ctx context.Context, p []byte) (int, error)
}

// Streams bundles the three standard streams an invocation wires up.
type Streams struct {
	Stdin  Stdin
	Stdout Stdout
	Stderr Stdout
}

// Strings is the packed layout shared by argv and environ (spec.md §3): a
// NUL-separated buffer plus the byte offset each string starts at.
type Strings struct {
	values  []string
	offsets []uint32
	buf     []byte
}

// NewStrings packs values into the StringCollection layout.
func NewStrings(values []string) *Strings {
	s := &Strings{values: values}
	for _, v := range values {
		s.offsets = append(s.offsets, uint32(len(s.buf)))
		s.buf = append(s.buf, v...)
		s.buf = append(s.buf, 0)
	}
	return s
}

func (s *Strings) Count() uint32      { return uint32(len(s.values)) }
func (s *Strings) BufLen() uint32     { return uint32(len(s.buf)) }

// Binding holds everything one invocation's WASI surface needs: the fd
// table, standard streams, argv/environ, a monotonic clock baseline, a
// random source and a logger. Its methods are the WASI function
// implementations; see fd.go, path.go, args.go, clock.go and poll.go.
type Binding struct {
	Table   *fdtable.Table
	Streams Streams
	Argv    *Strings
	Environ *Strings
	Clock   Clock
	Rand    io.Reader
	Log     *logrus.Entry

	startTime time.Time
}

// Clock abstracts wall-clock and monotonic time, letting tests and
// hostfs/osfs's golang.org/x/sys/unix-backed monotonic source both satisfy
// clock_time_get.
type Clock interface {
	Now() time.Time
	Monotonic() time.Duration
}

// NewBinding constructs a Binding ready to serve WASI calls.
func NewBinding(table *fdtable.Table, streams Streams, argv, environ []string, clock Clock, rnd io.Reader, log *logrus.Entry) *Binding {
	return &Binding{
		Table:     table,
		Streams:   streams,
		Argv:      NewStrings(argv),
		Environ:   NewStrings(environ),
		Clock:     clock,
		Rand:      rnd,
		Log:       log,
		startTime: clock.Now(),
	}
}

// dispatch is the middleware spec.md §4.D describes: check cancellation
// after success, translate a thrown error to the WASI taxonomy, and never
// let a non-SystemError propagate back into wazero as a success code. It is
// called by every wasihost method's caller (see module.go's registration).
// An error outside the closed errno taxonomy is not translated: spec.md §7
// requires it to be re-thrown and abort the entire invocation, so dispatch
// panics it instead of returning a best-effort errno — caught only by the
// invocation driver, the same as a *wasip1.ExitStatus.
func dispatch(ctx context.Context, log *logrus.Entry, name string, fn func() error) wasip1.Errno {
	err := fn()
	if err == nil {
		if ctx.Err() != nil {
			return wasip1.ECANCELED
		}
		return wasip1.ESUCCESS
	}
	var exit *wasip1.ExitStatus
	if errors.As(err, &exit) {
		panic(exit) // caught only by the invocation driver
	}
	errno, ok := toErrno(err)
	if !ok {
		panic(err) // unrecognised error: abort the invocation, don't fake an errno
	}
	if log != nil {
		log.WithError(err).WithField("call", name).Debug("wasi call failed")
	}
	return errno
}

// toErrno performs spec.md §7's host-error translation table, plus the
// io/fs sentinel mapping grounded on the teacher's makeErrno. The bool
// result reports whether err was recognised; an unrecognised error must be
// re-thrown by the caller rather than mapped, per spec.md §7.
func toErrno(err error) (wasip1.Errno, bool) {
	var sysErr *wasip1.SystemError
	if errors.As(err, &sysErr) {
		return sysErr.Errno, true
	}
	switch {
	case errors.Is(err, io.EOF):
		return wasip1.ESUCCESS, true
	case errors.Is(err, context.Canceled):
		return wasip1.ECANCELED, true
	case errors.Is(err, hostfs.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return wasip1.ENOENT, true
	case errors.Is(err, hostfs.ErrNotAllowed), errors.Is(err, fs.ErrPermission):
		return wasip1.EACCES, true
	case errors.Is(err, hostfs.ErrExists), errors.Is(err, fs.ErrExist):
		return wasip1.EEXIST, true
	case errors.Is(err, hostfs.ErrInvalidModification):
		return wasip1.ENOTEMPTY, true
	case errors.Is(err, hostfs.ErrInvalidArgument), errors.Is(err, fs.ErrInvalid):
		return wasip1.EINVAL, true
	case errors.Is(err, fs.ErrClosed):
		return wasip1.EBADF, true
	default:
		return 0, false
	}
}
