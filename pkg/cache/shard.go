package cache

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"

	"github.com/brindlecode/scmwalk/pkg/binstream"
	"github.com/brindlecode/scmwalk/pkg/revision"
	"github.com/brindlecode/scmwalk/pkg/sigdefer"
)

func shardPath(dir string, shard uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d", shardPrefix, shard))
}

func fileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, wrapErr("stat shard", path, err)
	}

	return fi.Size(), nil
}

// Put encodes rev, zlib-compresses it, and appends it to the current
// shard, rotating to a new shard once the current one has already reached
// the configured shard cap. A single payload may still push a shard past
// the cap; only the next Put after that rotates. The whole operation runs
// inside a signal-deferred scope so a SIGINT can't leave the shard and
// index files out of sync.
func (c *Cache) Put(id string, rev revision.Revision) error {
	if err := c.ensureLoaded(); err != nil {
		return err
	}

	compressed, err := compressRevision(rev)
	if err != nil {
		return fmt.Errorf("encode revision %s: %w", id, err)
	}

	crc := crc32.ChecksumIEEE(compressed)

	c.mu.Lock()
	defer c.mu.Unlock()

	guard := sigdefer.Scope()
	defer guard.Close()

	shard, offset, err := c.writeShardRecordLocked(compressed)
	if err != nil {
		return fmt.Errorf("write shard record for %s: %w", id, err)
	}

	entry := indexEntry{shard: shard, offset: uint32(offset), crc: crc}

	if err := c.appendIndexEntryLocked(id, entry); err != nil {
		return fmt.Errorf("append index entry for %s: %w", id, err)
	}

	return nil
}

// writeShardRecordLocked appends a length-prefixed compressed record to the
// current shard file, returning the shard index written to and the byte
// offset of the record's frame. Called with c.mu held.
func (c *Cache) writeShardRecordLocked(data []byte) (shard uint32, offset int64, err error) {
	path := shardPath(c.dir, c.currentShard)

	size, err := fileSize(path)
	if err != nil {
		return 0, 0, err
	}

	if size > 0 && size >= c.shardCap {
		c.currentShard++
		path = shardPath(c.dir, c.currentShard)
		size = 0
	}

	raw, err := binstream.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return 0, 0, wrapErr("open shard", path, err)
	}
	defer raw.Close()

	writer := binstream.NewWriter(raw)

	if err := writer.WriteBytes(data); err != nil {
		return 0, 0, wrapErr("write shard", path, err)
	}

	return c.currentShard, size, nil
}

// Get reads and decompresses the revision stored at id. It looks id up in
// the in-memory index under the cache lock and returns a plain (not
// *Error) error when id is not present.
func (c *Cache) Get(id string) (revision.Revision, error) {
	if err := c.ensureLoaded(); err != nil {
		return revision.Revision{}, err
	}

	c.mu.Lock()
	entry, ok := c.index[id]
	c.mu.Unlock()

	if !ok {
		return revision.Revision{}, fmt.Errorf("cache: %s not present", id)
	}

	compressed, err := c.readShardRecord(entry.shard, int64(entry.offset))
	if err != nil {
		return revision.Revision{}, fmt.Errorf("read shard record for %s: %w", id, err)
	}

	return decompressRevision(id, compressed)
}

func (c *Cache) readShardRecord(shard uint32, offset int64) ([]byte, error) {
	path := shardPath(c.dir, shard)

	raw, err := binstream.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, wrapErr("open shard", path, err)
	}
	defer raw.Close()

	if err := raw.Seek(offset); err != nil {
		return nil, wrapErr("seek shard", path, err)
	}

	reader := binstream.NewReader(raw)

	data, err := reader.ReadBytes()
	if err != nil {
		return nil, wrapErr("read shard", path, err)
	}

	return data, nil
}

func compressRevision(rev revision.Revision) ([]byte, error) {
	raw := binstream.NewMemStream()
	writer := binstream.NewWriter(raw)

	if err := rev.WriteTo(writer); err != nil {
		return nil, fmt.Errorf("serialize revision: %w", err)
	}

	var buf bytes.Buffer

	zw := zlib.NewWriter(&buf)

	if _, err := zw.Write(binstream.MemBytes(raw)); err != nil {
		return nil, fmt.Errorf("compress revision: %w", err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize compressed revision: %w", err)
	}

	return buf.Bytes(), nil
}

func decompressRevision(id string, compressed []byte) (revision.Revision, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return revision.Revision{}, fmt.Errorf("open compressed revision: %w", err)
	}
	defer zr.Close()

	decoded, err := io.ReadAll(zr)
	if err != nil {
		return revision.Revision{}, fmt.Errorf("decompress revision: %w", err)
	}

	raw := binstream.NewMemStreamFromBytes(decoded)
	reader := binstream.NewReader(raw)

	rev, err := revision.ReadFrom(id, reader)
	if err != nil {
		return revision.Revision{}, fmt.Errorf("decode revision: %w", err)
	}

	return rev, nil
}
