// Package datagram implements the small set of positional, bounds-checked
// binary decoding primitives the multifile parser needs: fixed-width
// little-endian (and big-endian) integer extraction and raw byte slicing
// over an immutable buffer. It has no write side; this system only ever
// reads multifile archives.
package datagram

import "fmt"

// OverflowError is returned whenever fewer than the requested number of
// bytes remain in the buffer.
type OverflowError struct {
	Requested int
	Remaining int
	Index     int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("datagram: overflow at index %d: requested %d bytes, %d remain", e.Index, e.Requested, e.Remaining)
}

// Reader is a cursor over an immutable byte buffer.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps buf in a Reader starting at offset 0. buf is not copied;
// the caller must not mutate it for the lifetime of the Reader.
func NewReader(buf []byte) *Reader {
	return &Reader{data: buf}
}

// Index returns the current cursor position.
func (r *Reader) Index() int {
	return r.pos
}

// Len returns the number of bytes remaining after the cursor.
func (r *Reader) Len() int {
	return len(r.data) - r.pos
}

// Peek returns the next n bytes without advancing the cursor.
func (r *Reader) Peek(n int) ([]byte, error) {
	if r.Len() < n {
		return nil, &OverflowError{Requested: n, Remaining: r.Len(), Index: r.pos}
	}
	return r.data[r.pos : r.pos+n], nil
}

// Extract returns the next n bytes and advances the cursor past them.
func (r *Reader) Extract(n int) ([]byte, error) {
	b, err := r.Peek(n)
	if err != nil {
		return nil, err
	}
	r.pos += n
	return b, nil
}

// Uint8 reads one unsigned byte.
func (r *Reader) Uint8() (uint8, error) {
	b, err := r.Extract(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Int8 reads one signed byte.
func (r *Reader) Int8() (int8, error) {
	v, err := r.Uint8()
	return int8(v), err
}

// Uint16LE reads a little-endian uint16.
func (r *Reader) Uint16LE() (uint16, error) {
	b, err := r.Extract(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// Int16LE reads a little-endian int16.
func (r *Reader) Int16LE() (int16, error) {
	v, err := r.Uint16LE()
	return int16(v), err
}

// Uint16BE reads a big-endian uint16. Unused by the multifile header
// itself today, kept for parity with the datagram primitives sibling
// formats in this family rely on.
func (r *Reader) Uint16BE() (uint16, error) {
	b, err := r.Extract(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// Uint32LE reads a little-endian uint32.
func (r *Reader) Uint32LE() (uint32, error) {
	b, err := r.Extract(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// Int32LE reads a little-endian int32.
func (r *Reader) Int32LE() (int32, error) {
	v, err := r.Uint32LE()
	return int32(v), err
}

// Uint32BE reads a big-endian uint32.
func (r *Reader) Uint32BE() (uint32, error) {
	b, err := r.Extract(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24, nil
}

// Uint64LE reads a little-endian uint64.
func (r *Reader) Uint64LE() (uint64, error) {
	b, err := r.Extract(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// Int64LE reads a little-endian int64.
func (r *Reader) Int64LE() (int64, error) {
	v, err := r.Uint64LE()
	return int64(v), err
}
