package wasihost

// Memory is the subset of wazero's api.Memory this package needs to
// marshal WASI structs through guest linear memory. Declaring it locally
// (rather than importing api.Memory directly into every file) keeps the
// binding-surface methods testable against a fake buffer without an
// instantiated wazero runtime; api.Memory already satisfies this interface
// structurally.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	ReadByte(offset uint32) (byte, bool)
	WriteByte(offset uint32, v byte) bool
	ReadUint16Le(offset uint32) (uint16, bool)
	WriteUint16Le(offset uint32, v uint16) bool
	ReadUint32Le(offset uint32) (uint32, bool)
	WriteUint32Le(offset uint32, v uint32) bool
	ReadUint64Le(offset uint32) (uint64, bool)
	WriteUint64Le(offset uint32, v uint64) bool
}
