// Package diffstat turns unified-diff output into per-file line/byte churn
// counters, and encodes/decodes that data as part of a cached revision.
package diffstat

import (
	"sort"

	"github.com/brindlecode/scmwalk/pkg/binstream"
)

// Stat holds the added/removed line and byte counters for one file.
type Stat struct {
	AddedBytes   uint64
	AddedLines   uint64
	RemovedBytes uint64
	RemovedLines uint64
}

// Empty reports whether the stat carries no observed change.
func (s Stat) Empty() bool {
	return s.AddedBytes == 0 && s.AddedLines == 0 && s.RemovedBytes == 0 && s.RemovedLines == 0
}

// Diffstat maps a file path to its churn counters. Paths are untrusted
// strings supplied by the backend; this type does not interpret them beyond
// the prefix filtering Filter provides.
type Diffstat struct {
	stats map[string]Stat
}

// New returns an empty Diffstat.
func New() Diffstat {
	return Diffstat{stats: make(map[string]Stat)}
}

// Files returns the paths touched, sorted for deterministic iteration.
func (d Diffstat) Files() []string {
	files := make([]string, 0, len(d.stats))
	for f := range d.stats {
		files = append(files, f)
	}

	sort.Strings(files)

	return files
}

// Stat returns the counters for path, and whether path was present.
func (d Diffstat) Stat(path string) (Stat, bool) {
	s, ok := d.stats[path]

	return s, ok
}

// LinesAdded returns the added-line count for path (zero if absent).
func (d Diffstat) LinesAdded(path string) uint64 { return d.stats[path].AddedLines }

// BytesAdded returns the added-byte count for path (zero if absent).
func (d Diffstat) BytesAdded(path string) uint64 { return d.stats[path].AddedBytes }

// LinesRemoved returns the removed-line count for path (zero if absent).
func (d Diffstat) LinesRemoved(path string) uint64 { return d.stats[path].RemovedLines }

// BytesRemoved returns the removed-byte count for path (zero if absent).
func (d Diffstat) BytesRemoved(path string) uint64 { return d.stats[path].RemovedBytes }

// Filter drops every entry whose path does not start with prefix, returning
// a new Diffstat. Paths are kept as they are; the prefix is not stripped.
// The svn backend's Diffstat applies it when the repository URL points
// below the repository root.
func (d Diffstat) Filter(prefix string) Diffstat {
	out := New()

	for path, stat := range d.stats {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			out.stats[path] = stat
		}
	}

	return out
}

func (d *Diffstat) set(path string, stat Stat) {
	if d.stats == nil {
		d.stats = make(map[string]Stat)
	}

	d.stats[path] = stat
}

// WriteTo encodes the diffstat as a u32 count followed by count ×
// (string path, u64 cadd, u64 ladd, u64 cdel, u64 ldel), per the cache's
// revision payload format.
func (d Diffstat) WriteTo(w *binstream.Writer) error {
	files := d.Files()

	if err := w.WriteU32(uint32(len(files))); err != nil {
		return err
	}

	for _, path := range files {
		stat := d.stats[path]

		if err := w.WriteString(path); err != nil {
			return err
		}

		if err := w.WriteU64(stat.AddedBytes); err != nil {
			return err
		}

		if err := w.WriteU64(stat.AddedLines); err != nil {
			return err
		}

		if err := w.WriteU64(stat.RemovedBytes); err != nil {
			return err
		}

		if err := w.WriteU64(stat.RemovedLines); err != nil {
			return err
		}
	}

	return nil
}

// ReadFrom decodes a Diffstat previously written by WriteTo.
func ReadFrom(r *binstream.Reader) (Diffstat, error) {
	count, err := r.ReadU32()
	if err != nil {
		return Diffstat{}, err
	}

	d := New()

	for i := uint32(0); i < count; i++ {
		path, err := r.ReadString()
		if err != nil {
			return Diffstat{}, err
		}

		var stat Stat

		if stat.AddedBytes, err = r.ReadU64(); err != nil {
			return Diffstat{}, err
		}

		if stat.AddedLines, err = r.ReadU64(); err != nil {
			return Diffstat{}, err
		}

		if stat.RemovedBytes, err = r.ReadU64(); err != nil {
			return Diffstat{}, err
		}

		if stat.RemovedLines, err = r.ReadU64(); err != nil {
			return Diffstat{}, err
		}

		d.set(path, stat)
	}

	return d, nil
}
