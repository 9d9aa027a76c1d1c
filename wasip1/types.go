// Package wasip1 provides the WASI snapshot_preview1 constant/flag/error
// vocabulary and the hand-rolled little-endian Marshal/Unmarshal methods
// used to read and write its structs through a guest's linear memory.
// Each struct's doc comment gives its packed byte layout; encoding is
// built field-by-field directly with encoding/binary rather than through a
// reflective or generic struct-tag scheme, since WASI's handful of structs
// are fixed and small enough that hand-rolled layout is both clearer and
// easier to audit against the spec than a general combinator would be.
package wasip1

import "encoding/binary"

// Filetype classifies an fd or path lookup result.
type Filetype uint8

const (
	FiletypeUnknown Filetype = iota
	FiletypeBlockDevice
	FiletypeCharacterDevice
	FiletypeDirectory
	FiletypeRegularFile
	FiletypeSocketDgram
	FiletypeSocketStream
	FiletypeSymbolicLink
)

// Whence selects the origin fd_seek computes the new offset from.
type Whence uint8

const (
	WhenceSet Whence = iota
	WhenceCur
	WhenceEnd
)

// Dircookie is a resume token for directory enumeration: the 0-based
// ordinal position of the next entry to yield.
type Dircookie uint64

// Timestamp is a nanosecond-precision point in time.
type Timestamp uint64

// Lookupflags controls symlink resolution during path lookup.
type Lookupflags uint32

const (
	LookupSymlinkFollow Lookupflags = 1 << iota
)

// Oflags are the path_open creation/exclusivity/truncation flags.
type Oflags uint16

const (
	OflagsCreate Oflags = 1 << iota
	OflagsDirectory
	OflagsExclusive
	OflagsTruncate
)

// Fdflags are the per-fd behavioral flags. Only NonBlock is ever observed
// by this runtime (and immediately cleared); the rest are accepted for ABI
// completeness but never change behavior.
type Fdflags uint16

const (
	FdflagsAppend Fdflags = 1 << iota
	FdflagsDsync
	FdflagsNonBlock
	FdflagsRsync
	FdflagsSync
)

// Fstflags select which of atim/mtim a filestat_set_times call updates.
// Unused by this runtime: path_filestat_set_times is NOSYS (spec.md Open
// Question), but the flag bits are part of the ABI surface.
type Fstflags uint16

const (
	FstflagsAtim Fstflags = 1 << iota
	FstflagsAtimNow
	FstflagsMtim
	FstflagsMtimNow
)

// Rights is the WASI capability bitset. fd_fdstat_get reports rightsBase as
// all bits set and rightsInheriting as all bits except PathSymlink, per
// spec.md §4.D (this runtime does not implement a capability-narrowing
// security model beyond the fd-table's read/write/directory distinctions).
type Rights uint64

const (
	RightFdDatasync Rights = 1 << iota
	RightFdRead
	RightFdSeek
	RightFdFdstatSetFlags
	RightFdSync
	RightFdTell
	RightFdWrite
	RightFdAdvise
	RightFdAllocate
	RightPathCreateDirectory
	RightPathCreateFile
	RightPathLinkSource
	RightPathLinkTarget
	RightPathOpen
	RightFdReaddir
	RightPathReadlink
	RightPathRenameSource
	RightPathRenameTarget
	RightPathFilestatGet
	RightPathFilestatSetSize
	RightPathFilestatSetTimes
	RightFdFilestatGet
	RightFdFilestatSetSize
	RightFdFilestatSetTimes
	RightPathSymlink
	RightPathRemoveDirectory
	RightPathUnlinkFile
	RightPollFdReadwrite
	RightSockShutdown
	RightSockAccept
)

const RightsAll Rights = (1 << 29) - 1

// RightsInheritingAll is RightsAll with PathSymlink cleared, matching
// spec.md's "all bits except symlink" for fd_fdstat_get on any fd.
const RightsInheritingAll Rights = RightsAll &^ RightPathSymlink

func (r Rights) Has(bits Rights) bool { return r&bits == bits }

// Prestat describes a pre-opened directory fd. Layout: type:u8, padding to
// the natural 4-byte alignment of nameLen, nameLen:u32. Size 8 bytes.
type Prestat struct {
	Type    Filetype
	NameLen uint32
}

func (p Prestat) Marshal() (b [8]byte) {
	b[0] = byte(p.Type)
	binary.LittleEndian.PutUint32(b[4:], p.NameLen)
	return b
}

// Iovec is one scatter/gather buffer descriptor: (ptr, len) in guest memory.
type Iovec struct {
	BufPtr uint32
	BufLen uint32
}

func (v Iovec) Marshal() (b [8]byte) {
	binary.LittleEndian.PutUint32(b[0:], v.BufPtr)
	binary.LittleEndian.PutUint32(b[4:], v.BufLen)
	return b
}

func UnmarshalIovec(b []byte) Iovec {
	return Iovec{
		BufPtr: binary.LittleEndian.Uint32(b[0:]),
		BufLen: binary.LittleEndian.Uint32(b[4:]),
	}
}

// Fdstat describes a file descriptor's type, flags and rights. Layout:
// filetype:u8, flags:u16 (at offset 2, its own natural alignment), padding
// to 8, rightsBase:u64 (offset 8), rightsInheriting:u64 (offset 16). Size
// 24 bytes.
type Fdstat struct {
	Filetype         Filetype
	Flags            Fdflags
	RightsBase       Rights
	RightsInheriting Rights
}

func (s Fdstat) Marshal() (b [24]byte) {
	b[0] = byte(s.Filetype)
	binary.LittleEndian.PutUint16(b[2:], uint16(s.Flags))
	binary.LittleEndian.PutUint64(b[8:], uint64(s.RightsBase))
	binary.LittleEndian.PutUint64(b[16:], uint64(s.RightsInheriting))
	return b
}

// Dirent is one directory entry header as emitted by fd_readdir, followed
// immediately in the guest buffer by the raw (non-NUL-terminated) name.
// Layout: next:u64, ino:u64, namelen:u32, type:u8, padding. Size 24 bytes.
type Dirent struct {
	Next    Dircookie
	Ino     uint64
	Namelen uint32
	Type    Filetype
}

func (d Dirent) Marshal() (b [24]byte) {
	binary.LittleEndian.PutUint64(b[0:], uint64(d.Next))
	binary.LittleEndian.PutUint64(b[8:], d.Ino)
	binary.LittleEndian.PutUint32(b[16:], d.Namelen)
	b[20] = byte(d.Type)
	return b
}

// Filestat is the result of fd_filestat_get / path_filestat_get. Layout:
// dev:u64, ino:u64, filetype:u8, padding to 8, nlink:u64, size:u64,
// accessTime:u64, modTime:u64, changeTime:u64. Size 64 bytes.
type Filestat struct {
	Dev        uint64
	Ino        uint64
	Filetype   Filetype
	Nlink      uint64
	Size       uint64
	AccessTime Timestamp
	ModTime    Timestamp
	ChangeTime Timestamp
}

func (s Filestat) Marshal() (b [64]byte) {
	binary.LittleEndian.PutUint64(b[0:], s.Dev)
	binary.LittleEndian.PutUint64(b[8:], s.Ino)
	b[16] = byte(s.Filetype)
	binary.LittleEndian.PutUint64(b[24:], s.Nlink)
	binary.LittleEndian.PutUint64(b[32:], s.Size)
	binary.LittleEndian.PutUint64(b[40:], uint64(s.AccessTime))
	binary.LittleEndian.PutUint64(b[48:], uint64(s.ModTime))
	binary.LittleEndian.PutUint64(b[56:], uint64(s.ChangeTime))
	return b
}

// EventType tags a poll_oneoff subscription / result event.
type EventType uint8

const (
	EventTypeClock EventType = iota
	EventTypeFdRead
	EventTypeFdWrite
)

// SubscriptionClockFlags controls whether a clock subscription's timeout is
// relative to now or an absolute point in time.
type SubscriptionClockFlags uint16

const (
	SubscriptionClockAbsolute SubscriptionClockFlags = 1 << iota
)

// ClockID selects which clock a clock subscription (or clock_time_get call)
// reads from.
type ClockID uint32

const (
	ClockRealtime ClockID = iota
	ClockMonotonic
)

// SubscriptionClock is the payload of a Clock-tagged subscription. Layout:
// id:u32, padding to 8, timeout:u64, precision:u64, flags:u16, padding.
// Size 32 bytes (including the 4 byte pad before timeout and the tail pad
// after flags, matching the canonical WASI subscription payload size).
type SubscriptionClock struct {
	ID        ClockID
	Timeout   uint64
	Precision uint64
	Flags     SubscriptionClockFlags
}

func (c SubscriptionClock) marshalInto(b []byte) {
	binary.LittleEndian.PutUint32(b[0:], uint32(c.ID))
	binary.LittleEndian.PutUint64(b[8:], c.Timeout)
	binary.LittleEndian.PutUint64(b[16:], c.Precision)
	binary.LittleEndian.PutUint16(b[24:], uint16(c.Flags))
}

func unmarshalSubscriptionClock(b []byte) SubscriptionClock {
	return SubscriptionClock{
		ID:        ClockID(binary.LittleEndian.Uint32(b[0:])),
		Timeout:   binary.LittleEndian.Uint64(b[8:]),
		Precision: binary.LittleEndian.Uint64(b[16:]),
		Flags:     SubscriptionClockFlags(binary.LittleEndian.Uint16(b[24:])),
	}
}

// SubscriptionFdReadwrite is the payload of an FdRead/FdWrite-tagged
// subscription. This runtime never waits on it (spec.md §4.D: emitted
// immediately with error=NOSYS), but the field must still be parsed.
type SubscriptionFdReadwrite struct {
	Fd uint32
}

func unmarshalSubscriptionFdReadwrite(b []byte) SubscriptionFdReadwrite {
	return SubscriptionFdReadwrite{Fd: binary.LittleEndian.Uint32(b[0:])}
}

// subscriptionPayloadSize is max(SubscriptionClock, SubscriptionFdReadwrite)
// per spec.md §4.A's tagged-union rule: the payload area is sized to the
// largest arm, regardless of which arm the current tag selects.
const subscriptionPayloadSize = 32

// Subscription is one poll_oneoff request. Layout: userdata:u64, tag:u8,
// padding to 8, payload (32 bytes). Size 48 bytes.
type Subscription struct {
	Userdata uint64
	Tag      EventType
	Clock    SubscriptionClock
	FdReadwrite SubscriptionFdReadwrite
}

const SubscriptionSize = 8 + 8 + subscriptionPayloadSize

func UnmarshalSubscription(b []byte) Subscription {
	s := Subscription{
		Userdata: binary.LittleEndian.Uint64(b[0:]),
		Tag:      EventType(b[8]),
	}
	payload := b[16:]
	switch s.Tag {
	case EventTypeClock:
		s.Clock = unmarshalSubscriptionClock(payload)
	case EventTypeFdRead, EventTypeFdWrite:
		s.FdReadwrite = unmarshalSubscriptionFdReadwrite(payload)
	}
	return s
}

// Event is one poll_oneoff result. Layout: userdata:u64, error:u16,
// type:u8, padding, fd_readwrite{nbytes:u64, flags:u16, padding}. Size 32
// bytes.
type Event struct {
	Userdata Uint64Userdata
	Error    Errno
	Type     EventType
	NBytes   uint64
	Flags    uint16
}

// Uint64Userdata is a type alias of uint64 (the same type), named only to
// make Event's field list self-documenting; it carries the guest-supplied
// subscription userdata back unchanged.
type Uint64Userdata = uint64

const EventSize = 32

func (e Event) Marshal() (b [EventSize]byte) {
	binary.LittleEndian.PutUint64(b[0:], e.Userdata)
	binary.LittleEndian.PutUint16(b[8:], uint16(e.Error))
	b[10] = byte(e.Type)
	binary.LittleEndian.PutUint64(b[16:], e.NBytes)
	binary.LittleEndian.PutUint16(b[24:], e.Flags)
	return b
}
