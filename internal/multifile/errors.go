package multifile

import (
	"errors"
	"fmt"

	"github.com/darktohka/p3dephaser/internal/datagram"
)

// Sentinel errors identifying the recognized archive-level failure modes.
// LoadError wraps one of these (or a *datagram.OverflowError for Malformed)
// so callers can branch with errors.Is/errors.As.
var (
	ErrInvalidHeader = errors.New("multifile: invalid header")
	ErrNotEncrypted  = errors.New("multifile: not encrypted")
	ErrMalformed     = errors.New("multifile: malformed")
)

// UnimplementedCipherError reports an encrypted-subfile envelope naming a
// cipher identifier this package does not support.
type UnimplementedCipherError struct {
	NID uint16
}

func (e *UnimplementedCipherError) Error() string {
	return fmt.Sprintf("multifile: unimplemented cipher nid %d", e.NID)
}

// LoadError wraps a failure encountered while loading an archive, along
// with the archive path for diagnostics.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("multifile: %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// wrapOverflow turns a *datagram.OverflowError into the archive-level
// "malformed" failure mode spec'd for C3.
func wrapOverflow(err error) error {
	var overflow *datagram.OverflowError
	if errors.As(err, &overflow) {
		return fmt.Errorf("%w: %w", ErrMalformed, overflow)
	}
	return err
}
