package cache

import (
	"fmt"
	"hash/crc32"

	"github.com/brindlecode/scmwalk/pkg/sigdefer"
)

// CheckResult summarizes what Check found and did.
type CheckResult struct {
	// Version is the gate state the stored cache format was found in.
	Version Check
	// Corrupted lists the IDs whose shard data failed its CRC check and
	// were dropped from the index.
	Corrupted []string
	// Cleared reports whether the whole cache directory was wiped (an
	// out-of-date or unknown format, with force set).
	Cleared bool
}

// Check validates every index entry's shard data against its recorded
// CRC32, dropping and rewriting the index to exclude any that fail. If
// the stored format itself is out of date or unrecognized, the cache is
// only cleared when force is true; otherwise Check just reports the
// state and leaves the files untouched.
func (c *Cache) Check(force bool) (CheckResult, error) {
	if err := c.ensureLoaded(); err != nil {
		return CheckResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	result := CheckResult{Version: c.versionState}

	if c.versionState != Ok {
		if !force {
			return result, nil
		}

		guard := sigdefer.Scope()
		defer guard.Close()

		if err := c.clearDirLocked(); err != nil {
			return result, err
		}

		c.resetLocked()
		result.Cleared = true

		return result, nil
	}

	guard := sigdefer.Scope()
	defer guard.Close()

	var corrupted []string

	for id, entry := range c.index {
		data, err := c.readShardRecord(entry.shard, int64(entry.offset))
		if err != nil {
			corrupted = append(corrupted, id)

			continue
		}

		if crc32.ChecksumIEEE(data) != entry.crc {
			corrupted = append(corrupted, id)
		}
	}

	if len(corrupted) == 0 {
		return result, nil
	}

	for _, id := range corrupted {
		delete(c.index, id)
	}

	if err := c.rewriteIndexLocked(); err != nil {
		return result, fmt.Errorf("rewrite index after check: %w", err)
	}

	result.Corrupted = corrupted

	return result, nil
}
