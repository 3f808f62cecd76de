package memscan

import "encoding/binary"

// MemoryReader is the subset of the process-memory interface (spec.md §6)
// the scanner needs. internal/procmem.Handle satisfies it on supported
// platforms; tests use a fake in-memory process image instead.
type MemoryReader interface {
	SearchBytes(needle []byte) ([]uintptr, error)
	ReadAt(addr uintptr, n int) ([]byte, error)
}

// multifileStructSize bounds the Δ sweep around a filename-bearing string
// object: the empirically observed maximum distance between the filename
// string and the password string inside Panda3D's in-memory multifile
// object. Widen, never narrow, without new empirical evidence.
const multifileStructSize = 1800

// longStringSizeGuard rejects length words that are suspiciously large,
// a heuristic sign of having landed on a non-string memory layout.
const longStringSizeGuard = 1000

// reconstructMSVC attempts to read a std::string under the MSVC layout
// from the 24-byte header b. Short-string capacity is 16 bytes; length
// lives at b[16:24], a heap pointer at b[0:8].
func reconstructMSVC(b []byte, mem MemoryReader) ([]byte, bool) {
	if len(b) < 24 {
		return nil, false
	}
	length := binary.LittleEndian.Uint64(b[16:24])

	if length < 16 {
		return append([]byte(nil), b[:length]...), true
	}
	if length > longStringSizeGuard {
		return nil, false
	}

	ptr := binary.LittleEndian.Uint64(b[0:8])
	data, err := mem.ReadAt(uintptr(ptr), int(length))
	if err != nil {
		return nil, false
	}
	return data, true
}

// reconstructLibcxx attempts to read a std::string under the libc++
// layout from the 24-byte header b. The low bit of b[0] tags short (0)
// vs long (1) form; short-string capacity is 23 bytes.
func reconstructLibcxx(b []byte, mem MemoryReader) ([]byte, bool) {
	if len(b) < 24 {
		return nil, false
	}

	if b[0]&1 == 0 {
		length := int(b[0] >> 1)
		if 1+length > len(b) {
			return nil, false
		}
		return append([]byte(nil), b[1:1+length]...), true
	}

	length := binary.LittleEndian.Uint64(b[8:16])
	if length > longStringSizeGuard {
		return nil, false
	}
	ptr := binary.LittleEndian.Uint64(b[16:24])
	data, err := mem.ReadAt(uintptr(ptr), int(length))
	if err != nil {
		return nil, false
	}
	return data, true
}
