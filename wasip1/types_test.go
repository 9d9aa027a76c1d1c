package wasip1

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIovecRoundTrip(t *testing.T) {
	v := Iovec{BufPtr: 0x1000, BufLen: 64}
	buf := v.Marshal()
	require.Equal(t, v, UnmarshalIovec(buf[:]))
}

func TestFdstatLayout(t *testing.T) {
	s := Fdstat{Filetype: FiletypeRegularFile, Flags: FdflagsNonBlock, RightsBase: RightsAll, RightsInheriting: RightsInheritingAll}
	buf := s.Marshal()
	require.Len(t, buf, 24)
	require.Equal(t, byte(FiletypeRegularFile), buf[0])
	require.Equal(t, uint64(RightsAll), leUint64(buf[8:]))
	require.Equal(t, uint64(RightsInheritingAll), leUint64(buf[16:]))
}

func TestDirentLayout(t *testing.T) {
	d := Dirent{Next: 7, Ino: 42, Namelen: 5, Type: FiletypeDirectory}
	buf := d.Marshal()
	require.Len(t, buf, 24)
	require.Equal(t, uint64(7), leUint64(buf[0:]))
	require.Equal(t, uint64(42), leUint64(buf[8:]))
	require.Equal(t, uint32(5), leUint32(buf[16:]))
	require.Equal(t, byte(FiletypeDirectory), buf[20])
}

func TestFilestatLayout(t *testing.T) {
	s := Filestat{Dev: 1, Ino: 2, Filetype: FiletypeRegularFile, Size: 99, AccessTime: 10, ModTime: 20, ChangeTime: 30}
	buf := s.Marshal()
	require.Len(t, buf, 64)
	require.Equal(t, uint64(99), leUint64(buf[32:]))
	require.Equal(t, uint64(10), leUint64(buf[40:]))
	require.Equal(t, uint64(20), leUint64(buf[48:]))
	require.Equal(t, uint64(30), leUint64(buf[56:]))
}

func TestSubscriptionClockRoundTrip(t *testing.T) {
	sub := Subscription{
		Userdata: 0xdeadbeef,
		Tag:      EventTypeClock,
		Clock: SubscriptionClock{
			ID:        ClockMonotonic,
			Timeout:   1_000_000,
			Precision: 1000,
			Flags:     SubscriptionClockAbsolute,
		},
	}
	buf := make([]byte, SubscriptionSize)
	leEncodeUint64(buf[0:], sub.Userdata)
	buf[8] = byte(sub.Tag)
	sub.Clock.marshalInto(buf[16:])

	got := UnmarshalSubscription(buf)
	require.Equal(t, sub.Userdata, got.Userdata)
	require.Equal(t, sub.Tag, got.Tag)
	require.Equal(t, sub.Clock, got.Clock)
}

func TestEventLayout(t *testing.T) {
	e := Event{Userdata: 5, Error: EACCES, Type: EventTypeClock, NBytes: 10, Flags: 1}
	buf := e.Marshal()
	require.Len(t, buf, EventSize)
	require.Equal(t, uint64(5), leUint64(buf[0:]))
	require.Equal(t, uint16(EACCES), leUint16(buf[8:]))
	require.Equal(t, byte(EventTypeClock), buf[10])
	require.Equal(t, uint64(10), leUint64(buf[16:]))
	require.Equal(t, uint16(1), leUint16(buf[24:]))
}

func TestRightsHas(t *testing.T) {
	r := RightFdRead | RightFdWrite
	require.True(t, r.Has(RightFdRead))
	require.False(t, r.Has(RightFdSeek))
	require.True(t, RightsAll.Has(RightFdRead|RightFdWrite|RightFdSeek))
	require.False(t, RightsInheritingAll.Has(RightPathSymlink))
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 3; i >= 0; i-- {
		v = v<<8 | uint32(b[i])
	}
	return v
}

func leUint16(b []byte) uint16 {
	var v uint16
	for i := 1; i >= 0; i-- {
		v = v<<8 | uint16(b[i])
	}
	return v
}

func leEncodeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
