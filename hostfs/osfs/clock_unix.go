//go:build linux || darwin

package osfs

import (
	"time"

	"golang.org/x/sys/unix"
)

// SystemClock satisfies wasihost.Clock using the OS monotonic clock
// (CLOCK_MONOTONIC) for Monotonic, rather than timestamping Now() at two
// points and subtracting: that drifts under wall-clock adjustments, which
// CLOCK_MONOTONIC is specifically exempt from.
type SystemClock struct {
	start unix.Timespec
}

// NewSystemClock fixes the monotonic baseline at construction time.
func NewSystemClock() *SystemClock {
	ts, err := unix.ClockGettime(unix.CLOCK_MONOTONIC)
	if err != nil {
		// Only fails if the clock id is unsupported, which CLOCK_MONOTONIC
		// never is on linux or darwin; a zero baseline degrades to
		// measuring uptime-since-first-call instead of failing the host.
		ts = unix.Timespec{}
	}
	return &SystemClock{start: ts}
}

func (c *SystemClock) Now() time.Time { return time.Now() }

func (c *SystemClock) Monotonic() time.Duration {
	ts, err := unix.ClockGettime(unix.CLOCK_MONOTONIC)
	if err != nil {
		return 0
	}
	sec := ts.Sec - c.start.Sec
	nsec := ts.Nsec - c.start.Nsec
	return time.Duration(sec)*time.Second + time.Duration(nsec)*time.Nanosecond
}
