//go:build linux

package procmem

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// chunkSize bounds how much of a region is read into a local buffer at
// once; regions larger than this are scanned in overlapping slices so a
// needle straddling a chunk boundary is never missed.
const chunkSize = 1 << 20 // 1 MiB

// Handle is a read-only view of a Linux process's address space, backed
// by process_vm_readv(2).
type Handle struct {
	pid     int
	regions []Region
}

// Open validates that pid exists and caches its current readable memory
// regions from /proc/<pid>/maps.
func Open(pid int) (*Handle, error) {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		return nil, fmt.Errorf("procmem: process %d not found: %w", pid, err)
	}

	regions, err := readMaps(pid)
	if err != nil {
		return nil, err
	}

	return &Handle{pid: pid, regions: regions}, nil
}

// Close drops the cached region list. It is idempotent and never fails.
func (h *Handle) Close() error {
	h.regions = nil
	return nil
}

// readMaps parses /proc/<pid>/maps into the list of readable regions.
func readMaps(pid int) ([]Region, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, fmt.Errorf("procmem: open maps: %w", err)
	}
	defer f.Close()

	var regions []Region
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		perms := fields[1]
		if len(perms) == 0 || perms[0] != 'r' {
			continue
		}
		start, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil || end <= start {
			continue
		}
		regions = append(regions, Region{Start: uintptr(start), End: uintptr(end)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("procmem: scan maps: %w", err)
	}
	return regions, nil
}

// readRemote issues one process_vm_readv call, reading len(buf) bytes
// from addr in the target process into buf.
func (h *Handle) readRemote(addr uintptr, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.Iovec{{Base: (*byte)(unsafe.Pointer(addr))}}
	remote[0].SetLen(len(buf))

	return unix.ProcessVMReadv(h.pid, local, remote, 0)
}

// ReadAt reads exactly n bytes at addr, failing if the region is unmapped
// or unreadable.
func (h *Handle) ReadAt(addr uintptr, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := h.readRemote(addr, buf)
	if err != nil {
		return nil, fmt.Errorf("procmem: read %d bytes at %#x: %w", n, addr, err)
	}
	if read != n {
		return nil, fmt.Errorf("procmem: short read at %#x: got %d of %d bytes", addr, read, n)
	}
	return buf, nil
}

// SearchBytes scans every cached readable region for non-overlapping
// occurrences of needle, returning their absolute addresses in region
// order. Unmapped or unreadable regions are skipped silently: they come
// and go constantly in a live process and are expected, non-fatal noise.
func (h *Handle) SearchBytes(needle []byte) ([]uintptr, error) {
	if len(needle) == 0 {
		return nil, nil
	}

	var matches []uintptr
	overlap := len(needle) - 1

	for _, region := range h.regions {
		start := region.Start
		var nextAllowed uintptr // absolute address; 0 means no constraint yet
		haveNextAllowed := false

		for start < region.End {
			want := chunkSize
			if region.End-start < uintptr(want) {
				want = int(region.End - start)
			}
			if want < len(needle) {
				break
			}

			buf := make([]byte, want)
			read, err := h.readRemote(start, buf)
			if err != nil || read != want {
				// Transient: the region may have been unmapped since maps
				// was snapshotted, or requires elevated permission.
				break
			}

			searchFrom := 0
			for {
				idx := bytes.Index(buf[searchFrom:], needle)
				if idx < 0 {
					break
				}
				abs := idx + searchFrom
				addr := start + uintptr(abs)
				if !haveNextAllowed || addr >= nextAllowed {
					matches = append(matches, addr)
					nextAllowed = addr + uintptr(len(needle))
					haveNextAllowed = true
				}
				searchFrom = abs + len(needle)
			}

			if region.End-start <= uintptr(want) {
				break
			}
			advance := want - overlap
			if advance <= 0 {
				advance = want
			}
			start += uintptr(advance)
		}
	}

	return matches, nil
}
