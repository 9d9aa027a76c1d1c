package wasihost

import (
	"context"
	"sort"
	"time"

	"github.com/wasihost/runtime/wasip1"
)

// PollOneoff implements spec.md §4.D's reduced poll_oneoff: fd_read/fd_write
// subscriptions never actually wait, they produce an immediate NOSYS event;
// if any such event was produced the call returns without waiting on any
// clock subscription. Otherwise every clock subscription's timeout is
// normalized to a relative duration (Realtime against wall-clock now,
// Monotonic against the Clock's Monotonic reading), sorted ascending, and
// merged against the earliest subscription's precision window: wait =
// clock[0].timeout + clock[0].precision, the prefix of subscriptions with
// timeout <= wait all fire together once the call sleeps until the last
// timeout in that prefix elapses. Cancellation is observed while waiting.
func (b *Binding) PollOneoff(ctx context.Context, mem Memory, inPtr uint32, outPtr uint32, n uint32, neventsPtr uint32) error {
	if n == 0 {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}

	subs := make([]wasip1.Subscription, n)
	for i := uint32(0); i < n; i++ {
		raw, ok := mem.Read(inPtr+i*wasip1.SubscriptionSize, wasip1.SubscriptionSize)
		if !ok {
			return wasip1.NewSystemError(wasip1.EINVAL)
		}
		subs[i] = wasip1.UnmarshalSubscription(raw)
	}

	var events []wasip1.Event
	type clockWait struct {
		index     int
		timeout   time.Duration
		precision time.Duration
	}
	var waits []clockWait

	now := b.Clock.Now()
	mono := b.Clock.Monotonic()

	for i, s := range subs {
		switch s.Tag {
		case wasip1.EventTypeFdRead, wasip1.EventTypeFdWrite:
			events = append(events, wasip1.Event{
				Userdata: s.Userdata,
				Error:    wasip1.ENOSYS,
				Type:     s.Tag,
			})
		case wasip1.EventTypeClock:
			var rel time.Duration
			switch s.Clock.ID {
			case wasip1.ClockRealtime:
				if s.Clock.Flags&wasip1.SubscriptionClockAbsolute != 0 {
					rel = time.Unix(0, int64(s.Clock.Timeout)).Sub(now)
				} else {
					rel = time.Duration(s.Clock.Timeout)
				}
			case wasip1.ClockMonotonic:
				if s.Clock.Flags&wasip1.SubscriptionClockAbsolute != 0 {
					rel = time.Duration(s.Clock.Timeout) - mono
				} else {
					rel = time.Duration(s.Clock.Timeout)
				}
			default:
				return wasip1.NewSystemError(wasip1.EINVAL)
			}
			if rel < 0 {
				rel = 0
			}
			waits = append(waits, clockWait{index: i, timeout: rel, precision: time.Duration(s.Clock.Precision)})
		}
	}

	if len(events) == 0 {
		if len(waits) == 0 {
			return wasip1.NewSystemError(wasip1.EINVAL)
		}
		sort.Slice(waits, func(a, c int) bool { return waits[a].timeout < waits[c].timeout })

		wait := waits[0].timeout + waits[0].precision
		prefix := 1
		for prefix < len(waits) && waits[prefix].timeout <= wait {
			prefix++
		}
		sleepUntil := waits[prefix-1].timeout

		timer := time.NewTimer(sleepUntil)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return wasip1.NewSystemError(wasip1.ECANCELED)
		case <-timer.C:
		}

		for _, w := range waits[:prefix] {
			events = append(events, wasip1.Event{
				Userdata: subs[w.index].Userdata,
				Type:     wasip1.EventTypeClock,
			})
		}
	}

	for i, e := range events {
		buf := e.Marshal()
		if !mem.Write(outPtr+uint32(i)*wasip1.EventSize, buf[:]) {
			return wasip1.NewSystemError(wasip1.EINVAL)
		}
	}
	if !mem.WriteUint32Le(neventsPtr, uint32(len(events))) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}
