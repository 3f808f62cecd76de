package multifile

import (
	"bytes"
	"crypto/aes"
	gocipher "crypto/cipher"
	"errors"
	"testing"

	"golang.org/x/crypto/blowfish"

	"github.com/darktohka/p3dephaser/internal/cipher"
)

// buildArchive assembles a minimal single-subfile encrypted multifile image
// in memory, mirroring the E1/E2 fixtures from spec.md.
func buildArchive(t *testing.T, nid uint16, keyLength int, ivSize, blockSize int, password, plaintext []byte, corrupt bool) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.Write(Magic)          // 6
	buf.Write([]byte{1, 0})   // major = 1 LE
	buf.Write([]byte{1, 0})   // minor = 1 LE
	buf.Write([]byte{1, 0, 0, 0}) // scale = 1
	buf.Write([]byte{0, 0, 0, 0}) // timestamp = 0
	if buf.Len() != headerSize {
		t.Fatalf("header size mismatch: %d", buf.Len())
	}

	subfileAddr := int64(buf.Len())
	envelopeAddr := subfileAddr + subfileDirEntrySize

	iv := make([]byte, ivSize)
	for i := range iv {
		iv[i] = byte(i)
	}
	iterationRaw := uint16(1) // -> iterationCount = 101

	var ciphertext []byte
	if !corrupt {
		key := cipher.DeriveKey(password, iv, int(iterationRaw)*iterationFactor+1, keyLength)
		ciphertext = make([]byte, blockSize)
		switch nid {
		case cipher.NIDBlowfishCBC:
			block, err := blowfish.NewCipher(key)
			if err != nil {
				t.Fatal(err)
			}
			gocipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
		case cipher.NIDAES256CBC:
			block, err := aes.NewCipher(key)
			if err != nil {
				t.Fatal(err)
			}
			gocipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)
		default:
			t.Fatalf("unsupported nid in test helper: %d", nid)
		}
	} else {
		ciphertext = bytes.Repeat([]byte{0xEE}, blockSize)
	}

	envelopeLen := 6 + ivSize + blockSize

	// next_address(4)=0 terminates the chain after this entry, data_address(4),
	// data_length(4), flags(2), original_length(4).
	entry := make([]byte, 0, subfileDirEntrySize)
	putU32 := func(v uint32) { entry = append(entry, byte(v), byte(v>>8), byte(v>>16), byte(v>>24)) }
	putU16 := func(v uint16) { entry = append(entry, byte(v), byte(v>>8)) }
	putU32(0) // terminal: no further subfiles
	putU32(uint32(envelopeAddr))
	putU32(uint32(envelopeLen))
	putU16(FlagEncrypted)
	putU32(uint32(envelopeLen))

	buf.Write(entry)
	if int64(buf.Len()) != envelopeAddr {
		t.Fatalf("envelope address mismatch: have %d want %d", buf.Len(), envelopeAddr)
	}

	envelope := make([]byte, 0, envelopeLen)
	e16 := func(v uint16) { envelope = append(envelope, byte(v), byte(v>>8)) }
	e16(nid)
	e16(uint16(keyLength))
	e16(iterationRaw)
	envelope = append(envelope, iv...)
	envelope = append(envelope, ciphertext...)
	buf.Write(envelope)

	return buf.Bytes()
}

func TestLoadE1BlowfishPassword(t *testing.T) {
	data := buildArchive(t, cipher.NIDBlowfishCBC, 16, 8, 8, []byte("open sesame"), []byte("crypty\x00\x00"), false)
	a, err := Load("test.mf", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if a.IterationCount != 101 {
		t.Fatalf("expected iteration count 101, got %d", a.IterationCount)
	}
	if !a.IsPassword([]byte("open sesame")) {
		t.Fatal("expected correct password to verify")
	}
	if a.IsPassword([]byte("wrong")) {
		t.Fatal("expected wrong password to fail")
	}
}

func TestLoadE2AES256Password(t *testing.T) {
	plaintext := append([]byte("crypty"), make([]byte, 10)...)
	data := buildArchive(t, cipher.NIDAES256CBC, 32, 16, 16, []byte("open sesame"), plaintext, false)
	a, err := Load("test.mf", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !a.IsPassword([]byte("open sesame")) {
		t.Fatal("expected correct password to verify")
	}
	if a.IsPassword([]byte("wrong")) {
		t.Fatal("expected wrong password to fail")
	}
}

func TestIsPasswordEmptyCandidate(t *testing.T) {
	data := buildArchive(t, cipher.NIDBlowfishCBC, 16, 8, 8, []byte("p"), []byte("crypty\x00\x00"), false)
	a, err := Load("test.mf", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if a.IsPassword(nil) || a.IsPassword([]byte{}) {
		t.Fatal("empty candidate must never verify")
	}
}

func TestIsPasswordCacheDoesNotChangeResult(t *testing.T) {
	data := buildArchive(t, cipher.NIDBlowfishCBC, 16, 8, 8, []byte("open sesame"), []byte("crypty\x00\x00"), false)
	a, err := Load("test.mf", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if a.IsPassword([]byte("wrong")) {
			t.Fatalf("iteration %d: expected wrong password to keep failing", i)
		}
	}
	if !a.IsPassword([]byte("open sesame")) {
		t.Fatal("correct password must still verify after repeated failures were cached")
	}
}

func TestLoadE3NotEncrypted(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	buf.Write([]byte{1, 0, 1, 0, 1, 0, 0, 0, 0, 0, 0, 0})
	if buf.Len() != headerSize {
		t.Fatalf("header size mismatch: %d", buf.Len())
	}

	firstAddr := int64(buf.Len())
	secondAddr := firstAddr + subfileDirEntrySize

	putU32 := func(b *bytes.Buffer, v uint32) { b.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}) }
	putU16 := func(b *bytes.Buffer, v uint16) { b.Write([]byte{byte(v), byte(v >> 8)}) }

	// First entry: ENCRYPTED clear, chains to a terminal second entry.
	putU32(&buf, uint32(secondAddr))
	putU32(&buf, 0) // data_address
	putU32(&buf, 0) // data_length
	putU16(&buf, 0) // flags: not encrypted
	putU32(&buf, 0) // original_length unused (flags clear, but field width kept for alignment)

	// Second entry: terminal (next_address == 0 ends the chain).
	entry := make([]byte, subfileDirEntrySize)
	buf.Write(entry)

	_, err := Load("test.mf", bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if !errors.Is(err, ErrNotEncrypted) {
		t.Fatalf("expected ErrNotEncrypted, got %v", err)
	}
}

func TestLoadE4UnimplementedCipher(t *testing.T) {
	data := buildArchive(t, 999, 16, 8, 8, []byte("x"), []byte("crypty\x00\x00"), true)
	_, err := Load("test.mf", bytes.NewReader(data), int64(len(data)))
	var unimpl *UnimplementedCipherError
	if !errors.As(err, &unimpl) || unimpl.NID != 999 {
		t.Fatalf("expected UnimplementedCipherError{999}, got %v", err)
	}
}

func TestLoadInvalidHeader(t *testing.T) {
	data := append([]byte("wrongmagic"), make([]byte, 20)...)
	_, err := Load("test.mf", bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, ErrInvalidHeader) {
		t.Fatalf("expected ErrInvalidHeader, got %v", err)
	}

	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("expected a *LoadError, got %T", err)
	}
	if loadErr.Path != "test.mf" {
		t.Fatalf("expected LoadError.Path %q, got %q", "test.mf", loadErr.Path)
	}
}

func TestLoadMalformedDirectoryWrapsErrMalformed(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	buf.Write([]byte{1, 0, 1, 0, 1, 0, 0, 0, 0, 0, 0, 0})

	// next_address points back at the current entry itself: a cycle.
	firstAddr := int64(buf.Len())
	putU32 := func(v uint32) { buf.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}) }
	putU16 := func(v uint16) { buf.Write([]byte{byte(v), byte(v >> 8)}) }
	putU32(uint32(firstAddr))
	putU32(0)
	putU32(0)
	putU16(0)
	putU32(0)

	_, err := Load("test.mf", bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}
