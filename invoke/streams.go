package invoke

import (
	"bytes"
	"context"
)

// BufferIn is a Stdin backed by a fixed in-memory buffer, for tests and for
// CLI invocations piping a file into the guest's stdin.
type BufferIn struct {
	r *bytes.Reader
}

// NewBufferIn wraps p for reading; p is not retained after construction.
func NewBufferIn(p []byte) *BufferIn {
	return &BufferIn{r: bytes.NewReader(append([]byte(nil), p...))}
}

func (b *BufferIn) Read(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return b.r.Read(p)
}

// StringOut is a Stdout that accumulates everything written to it, for
// tests that assert on a guest's full output.
type StringOut struct {
	buf bytes.Buffer
}

func (s *StringOut) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.buf.Write(p)
}

func (s *StringOut) String() string { return s.buf.String() }

// LineOut is a Stdout that invokes onLine once per complete, newline-
// terminated line written to it, buffering any trailing partial line across
// calls. Useful for streaming a guest's output to a logger line by line.
type LineOut struct {
	onLine func(line string)
	partial bytes.Buffer
}

func NewLineOut(onLine func(line string)) *LineOut {
	return &LineOut{onLine: onLine}
}

func (l *LineOut) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.partial.Write(p)
	for {
		buf := l.partial.Bytes()
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		l.onLine(string(buf[:i]))
		l.partial.Next(i + 1)
	}
	return len(p), nil
}

// Flush emits any trailing partial line that never received a terminating
// newline.
func (l *LineOut) Flush() {
	if l.partial.Len() > 0 {
		l.onLine(l.partial.String())
		l.partial.Reset()
	}
}
