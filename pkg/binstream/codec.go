package binstream

import (
	"encoding/binary"
	"fmt"
)

// Writer wraps a RawStream with typed, big-endian write primitives.
type Writer struct {
	raw RawStream
}

// NewWriter wraps raw for typed writes.
func NewWriter(raw RawStream) *Writer { return &Writer{raw: raw} }

// Raw returns the underlying stream.
func (w *Writer) Raw() RawStream { return w.raw }

// WriteU32 writes an unsigned 32-bit integer, big-endian.
func (w *Writer) WriteU32(v uint32) error {
	var buf [4]byte

	binary.BigEndian.PutUint32(buf[:], v)

	_, err := w.raw.Write(buf[:])
	if err != nil {
		return fmt.Errorf("write u32: %w", err)
	}

	return nil
}

// WriteU64 writes an unsigned 64-bit integer, big-endian.
func (w *Writer) WriteU64(v uint64) error {
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], v)

	_, err := w.raw.Write(buf[:])
	if err != nil {
		return fmt.Errorf("write u64: %w", err)
	}

	return nil
}

// WriteI64 writes a signed 64-bit integer, reinterpreted as unsigned on the
// wire (matching the C bit-pattern round-trip the original format relies
// on for negative timestamps).
func (w *Writer) WriteI64(v int64) error {
	return w.WriteU64(uint64(v))
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(b byte) error {
	_, err := w.raw.Write([]byte{b})
	if err != nil {
		return fmt.Errorf("write byte: %w", err)
	}

	return nil
}

// WriteString writes a NUL-terminated string.
func (w *Writer) WriteString(s string) error {
	_, err := w.raw.Write(append([]byte(s), 0))
	if err != nil {
		return fmt.Errorf("write string: %w", err)
	}

	return nil
}

// WriteBytes writes a u32-length-prefixed byte vector.
func (w *Writer) WriteBytes(b []byte) error {
	if err := w.WriteU32(uint32(len(b))); err != nil {
		return err
	}

	_, err := w.raw.Write(b)
	if err != nil {
		return fmt.Errorf("write byte vector: %w", err)
	}

	return nil
}

// Reader wraps a RawStream with typed, big-endian read primitives.
type Reader struct {
	raw RawStream
}

// NewReader wraps raw for typed reads.
func NewReader(raw RawStream) *Reader { return &Reader{raw: raw} }

// Raw returns the underlying stream.
func (r *Reader) Raw() RawStream { return r.raw }

// ReadU32 reads an unsigned 32-bit integer, big-endian.
func (r *Reader) ReadU32() (uint32, error) {
	var buf [4]byte

	_, err := r.raw.Read(buf[:])
	if err != nil {
		return 0, fmt.Errorf("read u32: %w", err)
	}

	return binary.BigEndian.Uint32(buf[:]), nil
}

// ReadU64 reads an unsigned 64-bit integer, big-endian.
func (r *Reader) ReadU64() (uint64, error) {
	var buf [8]byte

	_, err := r.raw.Read(buf[:])
	if err != nil {
		return 0, fmt.Errorf("read u64: %w", err)
	}

	return binary.BigEndian.Uint64(buf[:]), nil
}

// ReadI64 reads a signed 64-bit integer stored as its unsigned bit pattern.
func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	if err != nil {
		return 0, err
	}

	return int64(v), nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	var buf [1]byte

	_, err := r.raw.Read(buf[:])
	if err != nil {
		return 0, fmt.Errorf("read byte: %w", err)
	}

	return buf[0], nil
}

// ReadString reads a NUL-terminated string, one byte at a time. Cache
// payload strings are short (paths, author names, commit subjects) so a
// byte-at-a-time scan keeps the implementation simple without a real
// allocation hot path.
func (r *Reader) ReadString() (string, error) {
	var buf []byte

	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("read string: %w", err)
		}

		if b == 0 {
			break
		}

		buf = append(buf, b)
	}

	return string(buf), nil
}

// ReadBytes reads a u32-length-prefixed byte vector.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, fmt.Errorf("read byte vector length: %w", err)
	}

	buf := make([]byte, n)

	_, err = r.raw.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read byte vector: %w", err)
	}

	return buf, nil
}
