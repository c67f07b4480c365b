package binstream

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrGzipSeekUnsupported is returned by gzipStream.Seek: a compressed stream
// is forward-only, matching the cache index's append/rewrite-only access
// pattern.
var ErrGzipSeekUnsupported = errors.New("binstream: gzip stream does not support seek")

// gzipStream is a RawStream backed by a gzip-compressed file, used only for
// the cache index file.
type gzipStream struct {
	file   *os.File
	reader *gzip.Reader
	writer *gzip.Writer
	offset int64
	ok     bool
	eof    bool
}

// OpenGzipReader opens path for gzip-decompressed reading.
func OpenGzipReader(path string) (RawStream, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream %s: %w", path, err)
	}

	reader, err := gzip.NewReader(file)
	if err != nil {
		file.Close()

		return nil, fmt.Errorf("read gzip header %s: %w", path, err)
	}

	return &gzipStream{file: file, reader: reader, ok: true}, nil
}

// CreateGzipWriter creates (or truncates) path for gzip-compressed writing.
func CreateGzipWriter(path string) (RawStream, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create gzip stream %s: %w", path, err)
	}

	writer := gzip.NewWriter(file)

	return &gzipStream{file: file, writer: writer, ok: true}, nil
}

// AppendGzipWriter opens path for gzip-compressed writing, appending a new
// gzip member after any bytes already present rather than truncating. A
// gzip.Reader transparently concatenates members on read (Go's default
// multistream behavior), so a file built from repeated appends round-trips
// exactly like one written in a single pass.
func AppendGzipWriter(path string) (RawStream, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream for append %s: %w", path, err)
	}

	writer := gzip.NewWriter(file)

	return &gzipStream{file: file, writer: writer, ok: true}, nil
}

func (s *gzipStream) Ok() bool    { return s.ok }
func (s *gzipStream) Eof() bool   { return s.eof }
func (s *gzipStream) Tell() int64 { return s.offset }

func (s *gzipStream) Seek(_ int64) error {
	return ErrGzipSeekUnsupported
}

func (s *gzipStream) Read(buf []byte) (int, error) {
	if s.reader == nil {
		s.ok = false

		return 0, fmt.Errorf("binstream: gzip stream not opened for reading")
	}

	n, err := io.ReadFull(s.reader, buf)
	s.offset += int64(n)

	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.eof = true
		} else {
			s.ok = false
		}
	}

	return n, err
}

func (s *gzipStream) Write(buf []byte) (int, error) {
	if s.writer == nil {
		s.ok = false

		return 0, fmt.Errorf("binstream: gzip stream not opened for writing")
	}

	n, err := s.writer.Write(buf)
	s.offset += int64(n)

	if err != nil {
		s.ok = false

		return n, fmt.Errorf("write gzip stream: %w", err)
	}

	return n, nil
}

func (s *gzipStream) Close() error {
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			return fmt.Errorf("close gzip writer: %w", err)
		}
	}

	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			return fmt.Errorf("close gzip reader: %w", err)
		}
	}

	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close gzip file: %w", err)
	}

	return nil
}
