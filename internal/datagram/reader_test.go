package datagram

import (
	"errors"
	"testing"
)

func TestExtractAndIndex(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03, 0x04})
	b, err := r.Extract(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(b) != "\x01\x02" {
		t.Fatalf("unexpected bytes: %x", b)
	}
	if r.Index() != 2 {
		t.Fatalf("expected index 2, got %d", r.Index())
	}
}

func TestUint32LE(t *testing.T) {
	r := NewReader([]byte{0x01, 0x00, 0x00, 0x00})
	v, err := r.Uint32LE()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 1 {
		t.Fatalf("expected 1, got %d", v)
	}
}

func TestInt16LENegative(t *testing.T) {
	r := NewReader([]byte{0xff, 0xff})
	v, err := r.Int16LE()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != -1 {
		t.Fatalf("expected -1, got %d", v)
	}
}

func TestOverflow(t *testing.T) {
	r := NewReader([]byte{0x01})
	_, err := r.Uint32LE()
	if err == nil {
		t.Fatal("expected overflow error")
	}
	var overflow *OverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("expected *OverflowError, got %T", err)
	}
	if overflow.Requested != 4 || overflow.Remaining != 1 || overflow.Index != 0 {
		t.Fatalf("unexpected overflow fields: %+v", overflow)
	}
}

func TestPeekDoesNotAdvance(t *testing.T) {
	r := NewReader([]byte{0xAB, 0xCD})
	if _, err := r.Peek(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Index() != 0 {
		t.Fatalf("peek should not advance cursor, got index %d", r.Index())
	}
}

func TestUint64LE(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08})
	v, err := r.Uint64LE()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := uint64(0x0807060504030201)
	if v != want {
		t.Fatalf("expected %x, got %x", want, v)
	}
}
