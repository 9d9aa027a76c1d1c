package wasihost_test

import "encoding/binary"

// fakeMemory is a flat byte-slice Memory, standing in for wazero's
// api.Memory so Binding methods are testable without an instantiated wasm
// guest (wasihost.Memory's doc comment names this as the intended seam).
type fakeMemory struct {
	buf []byte
}

func newFakeMemory(size uint32) *fakeMemory {
	return &fakeMemory{buf: make([]byte, size)}
}

func (m *fakeMemory) Size() uint32 { return uint32(len(m.buf)) }

func (m *fakeMemory) inRange(offset, n uint32) bool {
	return uint64(offset)+uint64(n) <= uint64(len(m.buf))
}

func (m *fakeMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	if !m.inRange(offset, byteCount) {
		return nil, false
	}
	out := make([]byte, byteCount)
	copy(out, m.buf[offset:offset+byteCount])
	return out, true
}

func (m *fakeMemory) Write(offset uint32, v []byte) bool {
	if !m.inRange(offset, uint32(len(v))) {
		return false
	}
	copy(m.buf[offset:], v)
	return true
}

func (m *fakeMemory) ReadByte(offset uint32) (byte, bool) {
	if !m.inRange(offset, 1) {
		return 0, false
	}
	return m.buf[offset], true
}

func (m *fakeMemory) WriteByte(offset uint32, v byte) bool {
	if !m.inRange(offset, 1) {
		return false
	}
	m.buf[offset] = v
	return true
}

func (m *fakeMemory) ReadUint16Le(offset uint32) (uint16, bool) {
	if !m.inRange(offset, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.buf[offset:]), true
}

func (m *fakeMemory) WriteUint16Le(offset uint32, v uint16) bool {
	if !m.inRange(offset, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.buf[offset:], v)
	return true
}

func (m *fakeMemory) ReadUint32Le(offset uint32) (uint32, bool) {
	if !m.inRange(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.buf[offset:]), true
}

func (m *fakeMemory) WriteUint32Le(offset uint32, v uint32) bool {
	if !m.inRange(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], v)
	return true
}

func (m *fakeMemory) ReadUint64Le(offset uint32) (uint64, bool) {
	if !m.inRange(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.buf[offset:]), true
}

func (m *fakeMemory) WriteUint64Le(offset uint32, v uint64) bool {
	if !m.inRange(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.buf[offset:], v)
	return true
}
