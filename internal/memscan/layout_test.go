package memscan

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// msvcShortHeader builds a 24-byte MSVC-layout header for a short string
// (length < 16) stored inline starting at b[0].
func msvcShortHeader(inline []byte) []byte {
	b := make([]byte, 24)
	copy(b, inline)
	binary.LittleEndian.PutUint64(b[16:24], uint64(len(inline)))
	return b
}

// msvcLongHeader builds a 24-byte MSVC-layout header for a long string
// (length >= 16) held on the heap at ptr.
func msvcLongHeader(ptr uintptr, length int) []byte {
	b := make([]byte, 24)
	binary.LittleEndian.PutUint64(b[0:8], uint64(ptr))
	binary.LittleEndian.PutUint64(b[16:24], uint64(length))
	return b
}

// libcxxShortHeader builds a 24-byte libc++-layout header for a short
// string (length <= 22, tag bit clear) stored inline starting at b[1].
func libcxxShortHeader(inline []byte) []byte {
	b := make([]byte, 24)
	b[0] = byte(len(inline)) << 1 // short form: low bit 0, length in the rest
	copy(b[1:], inline)
	return b
}

func TestReconstructMSVCShortForm(t *testing.T) {
	proc := newFakeProcess(0x10000, 0x1000)
	want := []byte("secret")
	got, ok := reconstructMSVC(msvcShortHeader(want), proc)
	if !ok {
		t.Fatal("expected short-form reconstruction to succeed")
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReconstructMSVCLongForm(t *testing.T) {
	proc := newFakeProcess(0x10000, 0x1000)
	want := []byte("a password exceeding sso capacity")
	heapAddr := uintptr(0x10100)
	proc.put(heapAddr, want)

	got, ok := reconstructMSVC(msvcLongHeader(heapAddr, len(want)), proc)
	if !ok {
		t.Fatal("expected long-form reconstruction to succeed")
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReconstructMSVCLongFormSizeGuard(t *testing.T) {
	proc := newFakeProcess(0x10000, 0x1000)
	header := msvcLongHeader(0x10100, longStringSizeGuard+1)
	if _, ok := reconstructMSVC(header, proc); ok {
		t.Fatal("expected a suspiciously large length to be rejected")
	}
}

func TestReconstructMSVCTooShortBuffer(t *testing.T) {
	if _, ok := reconstructMSVC(make([]byte, 23), nil); ok {
		t.Fatal("expected a short read buffer to be rejected")
	}
}

func TestReconstructLibcxxShortForm(t *testing.T) {
	proc := newFakeProcess(0x10000, 0x1000)
	want := []byte("secret")
	got, ok := reconstructLibcxx(libcxxShortHeader(want), proc)
	if !ok {
		t.Fatal("expected short-form reconstruction to succeed")
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReconstructLibcxxLongForm(t *testing.T) {
	proc := newFakeProcess(0x10000, 0x1000)
	want := []byte("a password exceeding sso capacity")
	heapAddr := uintptr(0x10100)
	proc.put(heapAddr, want)

	got, ok := reconstructLibcxx(libcxxLongHeader(heapAddr, len(want)), proc)
	if !ok {
		t.Fatal("expected long-form reconstruction to succeed")
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReconstructLibcxxLongFormSizeGuard(t *testing.T) {
	proc := newFakeProcess(0x10000, 0x1000)
	header := libcxxLongHeader(0x10100, longStringSizeGuard+1)
	if _, ok := reconstructLibcxx(header, proc); ok {
		t.Fatal("expected a suspiciously large length to be rejected")
	}
}

func TestReconstructLibcxxTooShortBuffer(t *testing.T) {
	if _, ok := reconstructLibcxx(make([]byte, 23), nil); ok {
		t.Fatal("expected a short read buffer to be rejected")
	}
}
