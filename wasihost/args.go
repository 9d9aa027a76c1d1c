package wasihost

import "github.com/wasihost/runtime/wasip1"

// ArgsSizesGet writes argv's count and total packed-buffer byte size
// (including NUL terminators).
func (b *Binding) ArgsSizesGet(mem Memory, countPtr, sizePtr uint32) error {
	if !mem.WriteUint32Le(countPtr, b.Argv.Count()) || !mem.WriteUint32Le(sizePtr, b.Argv.BufLen()) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// ArgsGet writes the argv offset array as absolute pointers into the
// packed buffer written at bufPtr, then copies the packed buffer itself.
func (b *Binding) ArgsGet(mem Memory, argvPtr, bufPtr uint32) error {
	return writeStrings(mem, b.Argv, argvPtr, bufPtr)
}

// EnvironSizesGet mirrors ArgsSizesGet for the environment.
func (b *Binding) EnvironSizesGet(mem Memory, countPtr, sizePtr uint32) error {
	if !mem.WriteUint32Le(countPtr, b.Environ.Count()) || !mem.WriteUint32Le(sizePtr, b.Environ.BufLen()) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}

// EnvironGet mirrors ArgsGet for the environment.
func (b *Binding) EnvironGet(mem Memory, envPtr, bufPtr uint32) error {
	return writeStrings(mem, b.Environ, envPtr, bufPtr)
}

func writeStrings(mem Memory, s *Strings, ptrArray, bufPtr uint32) error {
	for i, off := range s.offsets {
		if !mem.WriteUint32Le(ptrArray+uint32(i)*4, bufPtr+off) {
			return wasip1.NewSystemError(wasip1.EINVAL)
		}
	}
	if !mem.Write(bufPtr, s.buf) {
		return wasip1.NewSystemError(wasip1.EINVAL)
	}
	return nil
}
