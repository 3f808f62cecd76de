//go:build !linux

package procmem

import "fmt"

// Handle is a stub on platforms that do not expose process_vm_readv or an
// equivalent whole-address-space read interface.
type Handle struct{}

// Open always fails: this platform is out of scope per spec.md §1.
func Open(pid int) (*Handle, error) {
	return nil, fmt.Errorf("procmem: open pid %d: %w", pid, ErrUnsupportedPlatform)
}

func (h *Handle) Close() error { return nil }

func (h *Handle) ReadAt(addr uintptr, n int) ([]byte, error) {
	return nil, ErrUnsupportedPlatform
}

func (h *Handle) SearchBytes(needle []byte) ([]uintptr, error) {
	return nil, ErrUnsupportedPlatform
}
