package binstream

import (
	"fmt"
	"io"
)

// memStream is a RawStream backed by a growable in-memory buffer, used to
// encode a Revision payload before it is zlib-compressed into a shard.
type memStream struct {
	buf    []byte
	offset int64
	ok     bool
	eof    bool
}

// NewMemStream creates an empty, writable in-memory stream.
func NewMemStream() RawStream {
	return &memStream{ok: true}
}

// NewMemStreamFromBytes wraps an existing byte slice for reading.
func NewMemStreamFromBytes(data []byte) RawStream {
	return &memStream{buf: data, ok: true}
}

// Bytes returns the stream's current contents.
func (s *memStream) Bytes() []byte { return s.buf }

// MemBytes returns the contents of a RawStream created by NewMemStream or
// NewMemStreamFromBytes. It panics if raw is not a memory stream.
func MemBytes(raw RawStream) []byte {
	m, ok := raw.(*memStream)
	if !ok {
		panic("binstream: MemBytes called on a non-memory stream")
	}

	return m.Bytes()
}

func (s *memStream) Ok() bool  { return s.ok }
func (s *memStream) Eof() bool { return s.eof }
func (s *memStream) Tell() int64 {
	return s.offset
}

func (s *memStream) Seek(offset int64) error {
	if offset < 0 || offset > int64(len(s.buf)) {
		s.ok = false

		return fmt.Errorf("binstream: seek out of range: %d", offset)
	}

	s.offset = offset
	s.eof = false

	return nil
}

func (s *memStream) Read(buf []byte) (int, error) {
	n := copy(buf, s.buf[s.offset:])
	s.offset += int64(n)

	if n < len(buf) {
		s.eof = true

		return n, io.ErrUnexpectedEOF
	}

	return n, nil
}

func (s *memStream) Write(buf []byte) (int, error) {
	if s.offset < int64(len(s.buf)) {
		n := copy(s.buf[s.offset:], buf)
		s.offset += int64(n)

		if n < len(buf) {
			s.buf = append(s.buf, buf[n:]...)
			s.offset += int64(len(buf) - n)
		}

		return len(buf), nil
	}

	s.buf = append(s.buf, buf...)
	s.offset += int64(len(buf))

	return len(buf), nil
}

func (s *memStream) Close() error { return nil }
