package memscan

import "github.com/google/uuid"

// Event is the closed set of signals a scan emits: Progress, Warning,
// ScanError, and exactly one terminal Finished. It replaces the Python
// source's Qt signal objects with tagged structs delivered through an
// EmitFunc callback, per the Design Notes' "worker-to-UI signalling"
// guidance.
type Event interface {
	isEvent()
}

// Progress reports one confirmed (filename, password) hit.
type Progress struct {
	ScanID   uuid.UUID
	Filename string
	Password []byte
}

// Warning reports a recoverable, archive-level failure: the archive is
// skipped and the scan continues.
type Warning struct {
	ScanID  uuid.UUID
	Archive string
	Err     error
}

// ScanError reports a fatal, scan-level failure (e.g. the target process
// died mid-scan). The scan aborts immediately after this event.
type ScanError struct {
	ScanID uuid.UUID
	Err    error
}

// Finished marks the end of the scan. Exactly one is emitted, always last.
type Finished struct {
	ScanID uuid.UUID
}

func (Progress) isEvent()  {}
func (Warning) isEvent()   {}
func (ScanError) isEvent() {}
func (Finished) isEvent()  {}

// EmitFunc receives scan events as they occur.
type EmitFunc func(Event)
