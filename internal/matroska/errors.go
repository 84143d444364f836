package matroska

import (
	"errors"
	"fmt"
)

// Sentinel errors for session handling. These enable callers to
// programmatically distinguish failure modes using errors.Is.
var (
	ErrAlreadyOpen         = errors.New("matroska: session already open")
	ErrNotReady            = errors.New("matroska: session not ready")
	ErrClosed              = errors.New("matroska: session closed")
	ErrNotMatroska         = errors.New("matroska: not a matroska or webm file")
	ErrNoSegment           = errors.New("matroska: no segment element")
	ErrUnknownTrack        = errors.New("matroska: unknown track")
	ErrTrackBusy           = errors.New("matroska: track already claimed by another sequence")
	ErrSequenceCanceled    = errors.New("matroska: packet sequence canceled")
	ErrUnknownAttachment   = errors.New("matroska: unknown attachment")
	ErrUnsupportedEncoding = errors.New("matroska: unsupported content encoding")
)

// OpenError reports a failure to open a container. It is fatal to the
// session and wraps the parse or transport error that caused it.
type OpenError struct {
	Err error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("matroska: open: %v", e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// ParseError indicates a failure to parse an element. It records which
// element was being parsed and where it started.
type ParseError struct {
	Element string
	Offset  int64
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("matroska: parse %s at %d: %v", e.Element, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
