// Package cipher implements the password-verification cryptographic
// pipeline: PBKDF2-HMAC-SHA1 key derivation and single-block CBC
// decryption for the two cipher identifiers Panda3D multifiles support.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"fmt"

	"golang.org/x/crypto/blowfish"
	"golang.org/x/crypto/pbkdf2"
)

// Supported OpenSSL NID cipher identifiers.
const (
	NIDBlowfishCBC = 91
	NIDAES256CBC   = 427
)

// DeriveKey computes PBKDF2-HMAC-SHA1(password, salt, iterations, dklen),
// byte-identical to the OpenSSL reference construction the Panda3D
// multifile format was encrypted against.
func DeriveKey(password, salt []byte, iterations, dklen int) []byte {
	return pbkdf2.Key(password, salt, iterations, dklen, sha1.New)
}

// Suite is a single-block CBC decryption primitive identified by an
// OpenSSL NID.
type Suite interface {
	IVSize() int
	BlockSize() int
	Decrypt(key, iv, ciphertext []byte) ([]byte, error)
}

// SuiteByNID looks up the cipher suite registered for nid, as specified
// in the multifile encrypted-subfile envelope.
func SuiteByNID(nid uint16) (Suite, bool) {
	switch nid {
	case NIDBlowfishCBC:
		return blowfishCBC{}, true
	case NIDAES256CBC:
		return aes256CBC{}, true
	default:
		return nil, false
	}
}

// blowfishCBC decrypts one block with Blowfish-CBC.
type blowfishCBC struct{}

func (blowfishCBC) IVSize() int    { return 8 }
func (blowfishCBC) BlockSize() int { return 8 }

func (blowfishCBC) Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != 8 {
		panic(fmt.Sprintf("cipher: blowfish-cbc requires exactly one 8-byte block, got %d", len(ciphertext)))
	}
	if len(iv) != 8 {
		panic(fmt.Sprintf("cipher: blowfish-cbc requires an 8-byte iv, got %d", len(iv)))
	}
	block, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, err
	}
	mode := cipher.NewCBCDecrypter(block, iv)
	out := make([]byte, len(ciphertext))
	mode.CryptBlocks(out, ciphertext)
	return out, nil
}

// aes256CBC decrypts one block with AES-256-CBC.
type aes256CBC struct{}

func (aes256CBC) IVSize() int    { return 16 }
func (aes256CBC) BlockSize() int { return 16 }

func (aes256CBC) Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != 16 {
		panic(fmt.Sprintf("cipher: aes-256-cbc requires exactly one 16-byte block, got %d", len(ciphertext)))
	}
	if len(iv) != 16 {
		panic(fmt.Sprintf("cipher: aes-256-cbc requires a 16-byte iv, got %d", len(iv)))
	}
	if len(key) != 32 {
		panic(fmt.Sprintf("cipher: aes-256-cbc requires a 32-byte key, got %d", len(key)))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	mode := cipher.NewCBCDecrypter(block, iv)
	out := make([]byte, len(ciphertext))
	mode.CryptBlocks(out, ciphertext)
	return out, nil
}
