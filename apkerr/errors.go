// Package apkerr holds the error values shared by the DEX, AXML and ARSC decoders.
//
// Structural problems are reported as *DecodeError values wrapping one of the
// sentinels below, so callers can use errors.Is for the category and errors.As
// for the byte offset. Lookup failures (ErrNotFound, ErrInvalidIdentifier and
// ErrInvalidIndex raised by queries) are wrapped sentinels without an offset.
package apkerr

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedHeader means a magic number, size or encoding is wrong.
	ErrMalformedHeader = errors.New("malformed header")
	// ErrOutOfBounds means an offset or length points outside the buffer.
	ErrOutOfBounds = errors.New("out of bounds")
	// ErrUnknownChunkType is returned for chunk or tag codes the decoder doesn't know.
	ErrUnknownChunkType = errors.New("unknown chunk type")
	// ErrInvalidIndex is an out-of-range table index or a NO_INDEX dereference.
	ErrInvalidIndex = errors.New("invalid index")
	// ErrInvalidIdentifier means a resource identifier matches no accepted syntax.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrNotFound means a well-formed key is absent from its scope.
	ErrNotFound = errors.New("not found")
)

// DecodeError is a fatal structural error found while decoding a buffer.
type DecodeError struct {
	Format string // "dex", "axml", "arsc", "stringpool" or "" for raw reads
	Offset int64  // -1 when unknown
	Err    error
}

// ReadError is the name the AXML decoder uses for its decode errors.
type ReadError = DecodeError

func (e *DecodeError) Error() string {
	if e.Offset < 0 {
		if e.Format == "" {
			return e.Err.Error()
		}
		return e.Format + ": " + e.Err.Error()
	}
	if e.Format == "" {
		return fmt.Sprintf("at 0x%08x: %s", e.Offset, e.Err.Error())
	}
	return fmt.Sprintf("%s: at 0x%08x: %s", e.Format, e.Offset, e.Err.Error())
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Errorf builds a DecodeError whose message is formatted from the arguments.
// The format should contain a %w verb for the category sentinel.
func Errorf(format string, offset int64, msg string, args ...interface{}) error {
	return &DecodeError{
		Format: format,
		Offset: offset,
		Err:    fmt.Errorf(msg, args...),
	}
}

// WithFormat turns any error coming out of a decoder into a DecodeError
// tagged with the format. Errors that already carry a format are returned
// unchanged; errors without a position get Offset -1.
func WithFormat(format string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		if de.Format != "" {
			return err
		}
		return &DecodeError{Format: format, Offset: de.Offset, Err: de.Err}
	}
	return &DecodeError{Format: format, Offset: -1, Err: err}
}

// IsLookup reports whether err is a lookup failure rather than a corrupt input.
func IsLookup(err error) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return false
	}
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidIdentifier) || errors.Is(err, ErrInvalidIndex)
}

// Rebase shifts the offset of a DecodeError produced by a reader over a
// sub-slice that started at base. Other errors are wrapped in a DecodeError at base.
func Rebase(err error, base int64, format string) error {
	var de *DecodeError
	if errors.As(err, &de) {
		f := de.Format
		if f == "" {
			f = format
		}
		return &DecodeError{Format: f, Offset: base + de.Offset, Err: de.Err}
	}
	return &DecodeError{Format: format, Offset: base, Err: err}
}
