package wasihost

import (
	"context"
	"io"

	"github.com/wasihost/runtime/wasip1"
)

// clockResolutionNs is the resolution clock_res_get reports for both
// clocks: 1ms, matching what the teacher reports for its Go-runtime-backed
// clocks since Go does not expose the host's true timer resolution.
const clockResolutionNs = 1_000_000

// ClockTimeGet answers Realtime as nanoseconds since the Unix epoch and
// Monotonic as the Clock's Monotonic reading in nanoseconds (for
// osfs.SystemClock, the time since that clock was created).
func (b *Binding) ClockTimeGet(ctx context.Context, mem Memory, id wasip1.ClockID, _ uint64, timePtr uint32) error {
	var ts wasip1.Timestamp
	switch id {
	case wasip1.ClockRealtime:
		ts = wasip1.Timestamp(b.Clock.Now().UnixNano())
	case wasip1.ClockMonotonic:
		ts = wasip1.Timestamp(b.Clock.Monotonic().Nanoseconds())
	default:
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	if !mem.WriteUint64Le(timePtr, uint64(ts)) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// ClockResGet always reports a 1ms resolution.
func (b *Binding) ClockResGet(ctx context.Context, mem Memory, id wasip1.ClockID, resPtr uint32) error {
	if id != wasip1.ClockRealtime && id != wasip1.ClockMonotonic {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	if !mem.WriteUint64Le(resPtr, clockResolutionNs) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// RandomGet fills buf with bytes drawn from the binding's random source. A
// failure reading from Rand is not in the closed errno taxonomy (spec.md
// §7), so it is returned as-is: dispatch re-throws it to abort the
// invocation rather than faking a SystemError.
func (b *Binding) RandomGet(ctx context.Context, mem Memory, buf uint32, bufLen uint32) error {
	p := make([]byte, bufLen)
	if _, err := io.ReadFull(b.Rand, p); err != nil {
		return err
	}
	if !mem.Write(buf, p) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// ProcExit panics with an ExitStatus, which only the invocation driver
// (package invoke) catches and converts to the process's exit code; it
// never reaches the WASI errno surface.
func (b *Binding) ProcExit(ctx context.Context, code uint32) error {
	panic(&wasip1.ExitStatus{Code: code})
}
