package binstream

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// fileStream is a RawStream backed by an *os.File, used for cache shards
// (framed but not whole-file-compressed — each payload is independently
// zlib-compressed by the caller).
type fileStream struct {
	file *os.File
	ok   bool
	eof  bool
}

// OpenFile opens path with the given os.OpenFile flags and wraps it as a
// RawStream.
func OpenFile(path string, flag int, perm os.FileMode) (RawStream, error) {
	file, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, fmt.Errorf("open file stream %s: %w", path, err)
	}

	return &fileStream{file: file, ok: true}, nil
}

func (s *fileStream) Ok() bool  { return s.ok }
func (s *fileStream) Eof() bool { return s.eof }

func (s *fileStream) Tell() int64 {
	offset, err := s.file.Seek(0, io.SeekCurrent)
	if err != nil {
		s.ok = false

		return -1
	}

	return offset
}

func (s *fileStream) Seek(offset int64) error {
	_, err := s.file.Seek(offset, io.SeekStart)
	if err != nil {
		s.ok = false

		return fmt.Errorf("seek file stream: %w", err)
	}

	s.eof = false

	return nil
}

func (s *fileStream) Read(buf []byte) (int, error) {
	n, err := io.ReadFull(s.file, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.eof = true
		} else {
			s.ok = false
		}
	}

	return n, err
}

func (s *fileStream) Write(buf []byte) (int, error) {
	n, err := s.file.Write(buf)
	if err != nil {
		s.ok = false

		return n, fmt.Errorf("write file stream: %w", err)
	}

	return n, nil
}

func (s *fileStream) Close() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close file stream: %w", err)
	}

	return nil
}
