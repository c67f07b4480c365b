// Package binstream provides a big-endian, architecture-portable binary
// framing layer over file, in-memory, and gzip-compressed sinks, used by the
// cache's on-disk format.
package binstream

import (
	"errors"
	"io"
)

// ErrShortRead reports a read that could not satisfy the requested number
// of bytes before EOF. The typed reads in this package do not return it;
// they return the underlying io.EOF or io.ErrUnexpectedEOF, wrapped.
var ErrShortRead = errors.New("binstream: short read")

// RawStream is the low-level sink every typed reader/writer sits on top of.
// Implementations are file-backed, memory-backed, or gzip-compressed.
type RawStream interface {
	io.Closer

	// Ok reports whether the stream is still usable (no unrecovered error).
	Ok() bool
	// Eof reports whether the last read reached end of stream.
	Eof() bool
	// Tell returns the current read/write offset.
	Tell() int64
	// Seek repositions the stream (file/mem sinks only; gzip sinks return
	// an error — compressed streams are forward-only).
	Seek(offset int64) error
	// Read fills buf as far as possible, returning the number of bytes read.
	Read(buf []byte) (int, error)
	// Write writes buf in full or returns an error.
	Write(buf []byte) (int, error)
}
