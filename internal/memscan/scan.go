// Package memscan implements the cross-process memory scanner: discovery
// of multifile filename occurrences in another process's address space,
// reconstruction of nearby heap-allocated string objects under multiple
// C++ standard-library string layouts, and submission of candidate
// passwords to internal/multifile for verification.
package memscan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/darktohka/p3dephaser/internal/multifile"
	"github.com/darktohka/p3dephaser/internal/procmem"
)

// printableFloor/printableCeil bound the ASCII printable range used to
// delimit a candidate string: string.printable minus the five trailing
// whitespace control characters collapses, in practice, to the visible
// ASCII block plus the space character.
const (
	printableFloor = 0x20
	printableCeil  = 0x7e
)

func isPrintable(b byte) bool {
	return b >= printableFloor && b <= printableCeil
}

// windowMargin is how far before (and, together with the needle length,
// after) an occurrence address the scanner reads to locate the full
// printable run the filename sits in.
const windowMargin = 128

// ArchiveRequest names one archive to scan for: its on-disk path (read via
// internal/multifile) and the basename to search for in process memory.
type ArchiveRequest struct {
	Path     string
	Basename string
}

// ScanProcess opens pid's address space and runs Scan against it, closing
// the handle on every exit path including cancellation and panics.
func ScanProcess(pid int, archives []ArchiveRequest, stop *atomic.Bool, emit EmitFunc) error {
	h, err := procmem.Open(pid)
	if err != nil {
		scanID := uuid.New()
		emit(ScanError{ScanID: scanID, Err: err})
		emit(Finished{ScanID: scanID})
		return err
	}
	defer h.Close()

	return Scan(h, archives, stop, emit)
}

// Scan drives the top-level algorithm of spec.md §4.4 against mem: for
// each requested archive, load it, search for its basename in memory, and
// recover candidate passwords near every occurrence. Exactly one Finished
// event is emitted, always last.
func Scan(mem MemoryReader, archives []ArchiveRequest, stop *atomic.Bool, emit EmitFunc) (scanErr error) {
	scanID := uuid.New()

	defer func() {
		if r := recover(); r != nil {
			scanErr = fmt.Errorf("memscan: panic: %v", r)
			emit(ScanError{ScanID: scanID, Err: scanErr})
		}
		emit(Finished{ScanID: scanID})
	}()

	for _, req := range archives {
		if stop.Load() {
			return nil
		}

		archive, err := loadArchive(req.Path)
		if err != nil {
			emit(Warning{ScanID: scanID, Archive: req.Basename, Err: err})
			continue
		}

		needle := []byte(req.Basename)
		occurrences, err := mem.SearchBytes(needle)
		if err != nil {
			scanErr = fmt.Errorf("memscan: searching memory for %q: %w", req.Basename, err)
			emit(ScanError{ScanID: scanID, Err: scanErr})
			return scanErr
		}

		for _, addr := range occurrences {
			if stop.Load() {
				return nil
			}
			if err := findPasswords(mem, archive, addr, needle, scanID, stop, emit); err != nil {
				scanErr = err
				emit(ScanError{ScanID: scanID, Err: scanErr})
				return scanErr
			}
		}
	}

	return nil
}

// loadArchive opens path and parses its multifile header via
// internal/multifile, using the file itself as the io.ReaderAt that
// backs internal/datagram's bounds-checked reads.
func loadArchive(path string) (*multifile.Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	return multifile.Load(path, f, stat.Size())
}

// findPasswords implements spec.md §4.4's find_passwords: it reconstructs
// the full filename around one occurrence, determines the filename-bearing
// string-object address(es), then sweeps the Δ window around each,
// offering every reconstructed candidate string to the archive's
// password-verification oracle.
func findPasswords(mem MemoryReader, archive *multifile.Archive, addr uintptr, name []byte, scanID uuid.UUID, stop *atomic.Bool, emit EmitFunc) error {
	if addr < windowMargin {
		return nil
	}

	winStart := addr - windowMargin
	winLen := 2*windowMargin + len(name)

	window, err := mem.ReadAt(winStart, winLen)
	if err != nil {
		// Short read at a region boundary: tolerate by skipping.
		return nil
	}

	idx := bytes.Index(window, name)
	if idx < 0 {
		return nil
	}

	start := -1
	for j := idx - 1; j >= 0; j-- {
		if !isPrintable(window[j]) {
			start = j + 1
			break
		}
	}
	if start == -1 {
		return nil
	}

	end := len(window)
	for j := idx + len(name); j < len(window); j++ {
		if !isPrintable(window[j]) {
			end = j
			break
		}
	}

	target := window[start:end]
	valueAddr := winStart + uintptr(start)

	var stringAddrs []uintptr
	if len(target) < 16 {
		stringAddrs = []uintptr{valueAddr}
	} else {
		ptrBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(ptrBytes, uint64(valueAddr))
		addrs, err := mem.SearchBytes(ptrBytes)
		if err != nil {
			return fmt.Errorf("memscan: searching memory for heap pointer: %w", err)
		}
		if len(addrs) == 0 {
			return nil
		}
		stringAddrs = addrs
	}

	filename := string(target)

	// Emission order follows (Δ ascending, string-object address order,
	// layout order): Δ is the outer loop, string-object address the inner.
	for delta := -multifileStructSize; delta < multifileStructSize; delta++ {
		for _, s := range stringAddrs {
			if stop.Load() {
				return nil
			}

			x := uintptr(int64(s) + int64(delta))
			raw, err := mem.ReadAt(x, 24)
			if err != nil {
				continue
			}

			if cand, ok := reconstructMSVC(raw, mem); ok && archive.IsPassword(cand) {
				if stop.Load() {
					return nil
				}
				emit(Progress{ScanID: scanID, Filename: filename, Password: cand})
			}
			if cand, ok := reconstructLibcxx(raw, mem); ok && archive.IsPassword(cand) {
				if stop.Load() {
					return nil
				}
				emit(Progress{ScanID: scanID, Filename: filename, Password: cand})
			}
		}
	}

	return nil
}
