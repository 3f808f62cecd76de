package multifile

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/darktohka/p3dephaser/internal/cipher"
)

// OpenSubfile returns a reader over the plaintext payload of the idx'th
// subfile in the archive's directory, decompressing it if COMPRESSED is
// set and decrypting it with password if ENCRYPTED is set. password is
// ignored for subfiles that are not encrypted.
//
// This is not on the password-recovery path: it is only ever called once
// a password has already been confirmed via IsPassword, and it never
// derives a key from an unverified candidate.
func (a *Archive) OpenSubfile(idx int, password []byte) (io.Reader, error) {
	if idx < 0 || idx >= len(a.Subfiles) {
		return nil, fmt.Errorf("multifile: subfile index %d out of range (have %d)", idx, len(a.Subfiles))
	}
	sf := a.Subfiles[idx]

	raw, err := readBytesAt(a.src, a.size, sf.Address, int(sf.Length))
	if err != nil {
		return nil, err
	}

	var r io.Reader = bytes.NewReader(raw)

	if sf.IsEncrypted() {
		suite, ok := cipher.SuiteByNID(a.NID)
		if !ok {
			return nil, &UnimplementedCipherError{NID: a.NID}
		}
		plain, err := decryptSubfilePayload(suite, a.IV, a.IterationCount, a.KeyLength, password, raw)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(plain)
	}

	if sf.IsCompressed() {
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("multifile: zlib: %w", err)
		}
		return zr, nil
	}

	return r, nil
}

// decryptSubfilePayload decrypts an arbitrary-length encrypted subfile
// payload in CBC mode, blockwise, using the same key derivation as the
// verification oracle. Every encrypted subfile is decrypted with the IV,
// iteration count and key length read from the envelope of the archive's
// first encrypted subfile; no per-subfile envelope is parsed.
func decryptSubfilePayload(suite cipher.Suite, iv []byte, iterations, keyLength int, password, ciphertext []byte) ([]byte, error) {
	bs := suite.BlockSize()
	if len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("multifile: encrypted subfile payload is not a multiple of the block size")
	}

	key := cipher.DeriveKey(password, iv, iterations, keyLength)
	plaintext := make([]byte, 0, len(ciphertext))
	prev := iv

	for off := 0; off < len(ciphertext); off += bs {
		block := ciphertext[off : off+bs]
		p, err := suite.Decrypt(key, prev, block)
		if err != nil {
			return nil, err
		}
		plaintext = append(plaintext, p...)
		prev = block
	}

	return plaintext, nil
}
