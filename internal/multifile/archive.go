// Package multifile implements the Panda3D multifile (.mf/.ef) header
// parser: a deterministic binary decoder that walks the chained subfile
// directory to locate the first encrypted subfile and extract its cipher
// identifier, IV, iteration count, and verification ciphertext block, plus
// the password-verification oracle built on top of internal/cipher.
package multifile

import (
	"fmt"
	"io"
	"sync"

	"github.com/darktohka/p3dephaser/internal/cipher"
	"github.com/darktohka/p3dephaser/internal/datagram"
)

// Subfile flag bits.
const (
	FlagCompressed uint16 = 0x08
	FlagEncrypted  uint16 = 0x10
	FlagSignature  uint16 = 0x20
)

// Magic is the literal that opens every multifile, and MagicHeader is the
// literal that opens every correctly decrypted subfile's plaintext.
var (
	Magic       = []byte("pmf\x00\n\r")
	MagicHeader = []byte("crypty")
)

// iterationFactor is the multiplier applied to the on-disk raw iteration
// count to obtain the PBKDF2 iteration count, per Panda3D's on-disk
// convention. This is a contract, not an inferred detail.
const iterationFactor = 100

// subfileDirEntrySize is the fixed width, in bytes, of one subfile
// directory entry as read off disk.
const subfileDirEntrySize = 18

// headerSize is the fixed width of the multifile header.
const headerSize = 18

// SubfileEntry is one entry in the multifile's subfile directory.
type SubfileEntry struct {
	Address        int64
	Length         int64
	Flags          uint16
	OriginalLength int64
}

// IsCompressed reports whether the subfile payload is zlib-compressed.
func (s SubfileEntry) IsCompressed() bool { return s.Flags&FlagCompressed != 0 }

// IsEncrypted reports whether the subfile payload is encrypted.
func (s SubfileEntry) IsEncrypted() bool { return s.Flags&FlagEncrypted != 0 }

// IsSignature reports whether the subfile carries a detached signature
// rather than ordinary content.
func (s SubfileEntry) IsSignature() bool { return s.Flags&FlagSignature != 0 }

// Archive is the parsed archive descriptor: the envelope of the first
// encrypted, non-signature subfile, plus the full subfile directory (kept
// to support the supplemented OpenSubfile operation).
type Archive struct {
	MajorVersion int16
	MinorVersion int16
	ScaleFactor  uint32
	Timestamp    uint32

	NID            uint16
	KeyLength      int
	IterationCount int
	IV             []byte
	Verification   []byte

	Subfiles              []SubfileEntry
	EncryptedSubfileIndex int

	src  io.ReaderAt
	size int64

	mu              sync.Mutex
	failedPasswords map[string]struct{}
}

// readBytesAt reads up to want bytes at addr, truncated to whatever
// remains before size. It never reads past the end of the archive.
func readBytesAt(r io.ReaderAt, size, addr int64, want int) ([]byte, error) {
	if addr < 0 || addr >= size {
		return nil, fmt.Errorf("%w: address %d out of range (size %d)", ErrMalformed, addr, size)
	}
	avail := size - addr
	n := int64(want)
	if n > avail {
		n = avail
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, addr); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// loadSubfileEntry reads and decodes the subfile directory entry located
// at addr, returning the entry and the raw next_address field (0 means
// end of chain).
func loadSubfileEntry(r io.ReaderAt, size, addr int64) (entry SubfileEntry, nextAddress int64, err error) {
	buf, err := readBytesAt(r, size, addr, subfileDirEntrySize)
	if err != nil {
		return SubfileEntry{}, 0, err
	}
	dr := datagram.NewReader(buf)

	next, err := dr.Uint32LE()
	if err != nil {
		return SubfileEntry{}, 0, wrapOverflow(err)
	}

	dataAddress, err := dr.Uint32LE()
	if err != nil {
		return SubfileEntry{}, 0, wrapOverflow(err)
	}
	dataLength, err := dr.Uint32LE()
	if err != nil {
		return SubfileEntry{}, 0, wrapOverflow(err)
	}
	flags, err := dr.Uint16LE()
	if err != nil {
		return SubfileEntry{}, 0, wrapOverflow(err)
	}

	entry = SubfileEntry{
		Address: int64(dataAddress),
		Length:  int64(dataLength),
		Flags:   flags,
	}

	if flags&(FlagCompressed|FlagEncrypted) != 0 {
		originalLength, err := dr.Uint32LE()
		if err != nil {
			return SubfileEntry{}, 0, wrapOverflow(err)
		}
		entry.OriginalLength = int64(originalLength)
	} else {
		entry.OriginalLength = entry.Length
	}

	return entry, int64(next), nil
}

// Load reads the archive header from src (of the given total size), walks
// the chained subfile directory, and extracts the envelope of the first
// encrypted, non-signature subfile. path is carried only for diagnostics
// (it need not name a real file — callers parsing an in-memory buffer may
// pass any label); every failure is reported as a *LoadError wrapping one
// of this package's sentinel errors, checkable with errors.Is/errors.As.
func Load(path string, src io.ReaderAt, size int64) (*Archive, error) {
	a, err := parseArchive(src, size)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return a, nil
}

// parseArchive implements Load's algorithm without the path-diagnostics
// wrapping, so internal call sites can layer their own context.
func parseArchive(src io.ReaderAt, size int64) (*Archive, error) {
	headerBuf, err := readBytesAt(src, size, 0, headerSize)
	if err != nil {
		return nil, err
	}
	dr := datagram.NewReader(headerBuf)

	magic, err := dr.Extract(len(Magic))
	if err != nil {
		return nil, wrapOverflow(err)
	}
	if string(magic) != string(Magic) {
		return nil, ErrInvalidHeader
	}

	major, err := dr.Int16LE()
	if err != nil {
		return nil, wrapOverflow(err)
	}
	minor, err := dr.Int16LE()
	if err != nil {
		return nil, wrapOverflow(err)
	}
	scale, err := dr.Uint32LE()
	if err != nil {
		return nil, wrapOverflow(err)
	}
	timestamp, err := dr.Uint32LE()
	if err != nil {
		return nil, wrapOverflow(err)
	}

	a := &Archive{
		MajorVersion:    major,
		MinorVersion:    minor,
		ScaleFactor:     scale,
		Timestamp:       timestamp,
		src:             src,
		size:            size,
		failedPasswords: make(map[string]struct{}),
	}

	addr := int64(dr.Index())
	encryptedIndex := -1

	maxEntries := size/subfileDirEntrySize + 1
	for i := int64(0); addr != 0; i++ {
		if i > maxEntries {
			return nil, fmt.Errorf("%w: subfile directory exceeds %d entries", ErrMalformed, maxEntries)
		}

		entry, next, err := loadSubfileEntry(src, size, addr)
		if err != nil {
			return nil, err
		}
		if next != 0 && (next < addr+subfileDirEntrySize || next >= size) {
			return nil, fmt.Errorf("%w: cyclic or out-of-range next_address %d at %d", ErrMalformed, next, addr)
		}

		a.Subfiles = append(a.Subfiles, entry)
		if encryptedIndex == -1 && entry.IsEncrypted() && !entry.IsSignature() {
			encryptedIndex = len(a.Subfiles) - 1
		}

		addr = next
	}

	if encryptedIndex == -1 {
		return nil, ErrNotEncrypted
	}
	a.EncryptedSubfileIndex = encryptedIndex

	if err := a.loadEnvelope(a.Subfiles[encryptedIndex]); err != nil {
		return nil, err
	}

	return a, nil
}

// loadEnvelope reads the encrypted-subfile envelope (nid, key length,
// iteration count, IV, verification block) from the payload of sf.
func (a *Archive) loadEnvelope(sf SubfileEntry) error {
	// 2 (nid) + 2 (key_length) + 2 (iteration_count_raw) is the fixed
	// prefix; iv_size(nid) and block_size(nid) bytes follow it.
	prefix, err := readBytesAt(a.src, a.size, sf.Address, 6)
	if err != nil {
		return err
	}
	dr := datagram.NewReader(prefix)

	nid, err := dr.Uint16LE()
	if err != nil {
		return wrapOverflow(err)
	}
	keyLength, err := dr.Uint16LE()
	if err != nil {
		return wrapOverflow(err)
	}
	iterRaw, err := dr.Uint16LE()
	if err != nil {
		return wrapOverflow(err)
	}

	suite, ok := cipher.SuiteByNID(nid)
	if !ok {
		return &UnimplementedCipherError{NID: nid}
	}

	rest, err := readBytesAt(a.src, a.size, sf.Address+6, suite.IVSize()+suite.BlockSize())
	if err != nil {
		return err
	}
	dr = datagram.NewReader(rest)

	iv, err := dr.Extract(suite.IVSize())
	if err != nil {
		return wrapOverflow(err)
	}
	verification, err := dr.Extract(suite.BlockSize())
	if err != nil {
		return wrapOverflow(err)
	}

	a.NID = nid
	a.KeyLength = int(keyLength)
	a.IterationCount = int(iterRaw)*iterationFactor + 1
	a.IV = append([]byte(nil), iv...)
	a.Verification = append([]byte(nil), verification...)
	return nil
}

// IsPassword reports whether candidate is the archive's encryption
// password: it derives a key via PBKDF2-HMAC-SHA1 and decrypts the
// leading verification ciphertext block, checking for the magic header.
// The failed-password cache is a latency optimization only; it must not
// (and does not) change the result.
func (a *Archive) IsPassword(candidate []byte) bool {
	if len(candidate) == 0 {
		return false
	}

	key := string(candidate)

	a.mu.Lock()
	_, failed := a.failedPasswords[key]
	a.mu.Unlock()
	if failed {
		return false
	}

	suite, ok := cipher.SuiteByNID(a.NID)
	if !ok {
		// The envelope was already validated against this NID during Load;
		// reaching this branch means an internal invariant was violated.
		panic(fmt.Sprintf("multifile: archive carries unimplemented nid %d past Load", a.NID))
	}

	derived := cipher.DeriveKey(candidate, a.IV, a.IterationCount, a.KeyLength)
	plaintext, err := suite.Decrypt(derived, a.IV, a.Verification)
	if err != nil {
		a.mu.Lock()
		a.failedPasswords[key] = struct{}{}
		a.mu.Unlock()
		return false
	}

	if len(plaintext) < len(MagicHeader) || string(plaintext[:len(MagicHeader)]) != string(MagicHeader) {
		a.mu.Lock()
		a.failedPasswords[key] = struct{}{}
		a.mu.Unlock()
		return false
	}

	return true
}
