// Package revision defines the immutable Revision and Tag records produced
// by a backend or reconstituted from the cache, and their binary codec.
package revision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/brindlecode/scmwalk/pkg/binstream"
	"github.com/brindlecode/scmwalk/pkg/diffstat"
)

// payloadVersion is the Revision payload format version written between the
// head and tail markers.
const payloadVersion = 1

const (
	headMarker = 'R'
	tailMarker = 'V'
)

// ErrBadMarker is returned when a decoded payload doesn't begin or end with
// the expected head/tail marker byte.
var ErrBadMarker = errors.New("revision: bad head or tail marker")

// ErrUnknownVersion is returned when a decoded payload carries a version
// this codec doesn't understand.
var ErrUnknownVersion = errors.New("revision: unknown payload version")

// compositeIDSeparator splits a "parent:child" composite revision ID.
const compositeIDSeparator = ":"

// Revision is an immutable, fully assembled revision record: authorship,
// commit date, message, and per-file diffstat. ID may be a bare hash/number
// or a "parent:child" pair encoding a diff range.
type Revision struct {
	ID       string
	Date     int64
	Author   string
	Message  string
	Diffstat diffstat.Diffstat
}

// New builds a Revision from its fields.
func New(id string, date int64, author, message string, stat diffstat.Diffstat) Revision {
	return Revision{ID: id, Date: date, Author: author, Message: message, Diffstat: stat}
}

// ChildID returns the part of a composite ID used for metadata lookups: the
// last element after splitting on ":". For a bare ID this is the ID itself.
func (r Revision) ChildID() string {
	parts := strings.Split(r.ID, compositeIDSeparator)

	return parts[len(parts)-1]
}

// ParentID returns the parent half of a composite "parent:child" ID, and
// whether the ID actually encoded a parent (a bare ID has none).
func (r Revision) ParentID() (string, bool) {
	parts := strings.Split(r.ID, compositeIDSeparator)
	if len(parts) > 1 {
		return parts[0], true
	}

	return "", false
}

// WriteTo encodes the revision payload (not the ID, which is stored
// separately by the cache index) as: 'R', version, date, author, message,
// diffstat, 'V'.
func (r Revision) WriteTo(w *binstream.Writer) error {
	if err := w.WriteByte(headMarker); err != nil {
		return err
	}

	if err := w.WriteByte(payloadVersion); err != nil {
		return err
	}

	if err := w.WriteI64(r.Date); err != nil {
		return err
	}

	if err := w.WriteString(r.Author); err != nil {
		return err
	}

	if err := w.WriteString(r.Message); err != nil {
		return err
	}

	if err := r.Diffstat.WriteTo(w); err != nil {
		return err
	}

	if err := w.WriteByte(tailMarker); err != nil {
		return err
	}

	return nil
}

// ReadFrom decodes a Revision payload written by WriteTo. id is supplied by
// the caller (the cache index entry), since the payload itself doesn't
// carry it.
func ReadFrom(id string, r *binstream.Reader) (Revision, error) {
	head, err := r.ReadByte()
	if err != nil {
		return Revision{}, fmt.Errorf("read revision head marker: %w", err)
	}

	if head != headMarker {
		return Revision{}, fmt.Errorf("%w: head=%q", ErrBadMarker, head)
	}

	version, err := r.ReadByte()
	if err != nil {
		return Revision{}, fmt.Errorf("read revision version: %w", err)
	}

	if version != payloadVersion {
		return Revision{}, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}

	date, err := r.ReadI64()
	if err != nil {
		return Revision{}, fmt.Errorf("read revision date: %w", err)
	}

	author, err := r.ReadString()
	if err != nil {
		return Revision{}, fmt.Errorf("read revision author: %w", err)
	}

	message, err := r.ReadString()
	if err != nil {
		return Revision{}, fmt.Errorf("read revision message: %w", err)
	}

	stat, err := diffstat.ReadFrom(r)
	if err != nil {
		return Revision{}, fmt.Errorf("read revision diffstat: %w", err)
	}

	tail, err := r.ReadByte()
	if err != nil {
		return Revision{}, fmt.Errorf("read revision tail marker: %w", err)
	}

	if tail != tailMarker {
		return Revision{}, fmt.Errorf("%w: tail=%q", ErrBadMarker, tail)
	}

	return Revision{ID: id, Date: date, Author: author, Message: message, Diffstat: stat}, nil
}

// Tag is a named reference to a revision, ordered by Name.
type Tag struct {
	ID   string
	Name string
}
