package cache

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/brindlecode/scmwalk/pkg/binstream"
)

// loadIndexLocked reads the index file, if any: its first record is the
// format version, followed by the index entries themselves. Called with
// c.mu held.
func (c *Cache) loadIndexLocked() error {
	indexPath := filepath.Join(c.dir, indexFileName)

	if _, err := os.Stat(indexPath); err != nil {
		if os.IsNotExist(err) {
			c.versionState = Ok

			return nil
		}

		return wrapErr("stat index", indexPath, err)
	}

	raw, err := binstream.OpenGzipReader(indexPath)
	if err != nil {
		return wrapErr("open index", indexPath, err)
	}
	defer raw.Close()

	reader := binstream.NewReader(raw)

	stored, err := reader.ReadU32()
	if err != nil {
		return wrapErr("read index version", indexPath, err)
	}

	c.versionState = CheckVersion(c.backend.Name(), stored)

	if c.versionState != Ok {
		c.logger.Warn("cache: stored format is not usable, treating as empty until cleared",
			"backend", c.backend.Name(), "stored_version", stored, "current_version", Version)

		return nil
	}

	for {
		id, err := reader.ReadString()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}

			return wrapErr("read index entry", indexPath, err)
		}

		shard, err := reader.ReadU32()
		if err != nil {
			return wrapErr("read index entry", indexPath, err)
		}

		offset, err := reader.ReadU32()
		if err != nil {
			return wrapErr("read index entry", indexPath, err)
		}

		crc, err := reader.ReadU32()
		if err != nil {
			return wrapErr("read index entry", indexPath, err)
		}

		c.index[id] = indexEntry{shard: shard, offset: offset, crc: crc}

		if shard > c.currentShard {
			c.currentShard = shard
		}
	}

	return nil
}

// appendIndexEntryLocked records a new (id -> shard, offset, crc) mapping
// both in memory and on disk. If the index file doesn't exist yet, it is
// created with the current format version as its first record; otherwise
// the entry is appended as a new gzip member. Called with c.mu held,
// inside a sigdefer scope supplied by the caller.
func (c *Cache) appendIndexEntryLocked(id string, e indexEntry) error {
	indexPath := filepath.Join(c.dir, indexFileName)

	_, statErr := os.Stat(indexPath)

	fresh := false

	if statErr != nil {
		if !os.IsNotExist(statErr) {
			return wrapErr("stat index", indexPath, statErr)
		}

		fresh = true
	}

	var (
		raw binstream.RawStream
		err error
	)

	if fresh {
		raw, err = binstream.CreateGzipWriter(indexPath)
	} else {
		raw, err = binstream.AppendGzipWriter(indexPath)
	}

	if err != nil {
		return wrapErr("open index for append", indexPath, err)
	}

	writer := binstream.NewWriter(raw)

	var writeErr error

	if fresh {
		writeErr = writer.WriteU32(Version)
	}

	if writeErr == nil {
		writeErr = writeIndexEntry(writer, id, e)
	}

	closeErr := raw.Close()

	if writeErr != nil {
		return wrapErr("write index entry", indexPath, writeErr)
	}

	if closeErr != nil {
		return wrapErr("close index", indexPath, closeErr)
	}

	c.index[id] = e

	return nil
}

func writeIndexEntry(w *binstream.Writer, id string, e indexEntry) error {
	if err := w.WriteString(id); err != nil {
		return err
	}

	if err := w.WriteU32(e.shard); err != nil {
		return err
	}

	if err := w.WriteU32(e.offset); err != nil {
		return err
	}

	return w.WriteU32(e.crc)
}

// rewriteIndexLocked replaces the index file from scratch with the
// entries currently held in memory, stamping the current format version
// as the first record. Used by Check to drop corrupted entries.
func (c *Cache) rewriteIndexLocked() error {
	indexPath := filepath.Join(c.dir, indexFileName)
	tmpPath := indexPath + ".tmp"

	raw, err := binstream.CreateGzipWriter(tmpPath)
	if err != nil {
		return wrapErr("rewrite index", tmpPath, err)
	}

	writer := binstream.NewWriter(raw)

	writeErr := writer.WriteU32(Version)

	for id, e := range c.index {
		if writeErr != nil {
			break
		}

		writeErr = writeIndexEntry(writer, id, e)
	}

	closeErr := raw.Close()

	if writeErr != nil {
		os.Remove(tmpPath)

		return wrapErr("rewrite index", tmpPath, writeErr)
	}

	if closeErr != nil {
		os.Remove(tmpPath)

		return wrapErr("close index rewrite", tmpPath, closeErr)
	}

	if err := os.Rename(tmpPath, indexPath); err != nil {
		return wrapErr("replace index", indexPath, err)
	}

	return nil
}
