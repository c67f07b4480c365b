// Package cache implements the versioned, CRC-checked revision cache:
// it decorates an scm.Backend transparently, so from a consumer's point of
// view a Cache-wrapped backend is just a faster backend.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/brindlecode/scmwalk/pkg/diffstat"
	"github.com/brindlecode/scmwalk/pkg/revision"
	"github.com/brindlecode/scmwalk/pkg/scm"
	"github.com/brindlecode/scmwalk/pkg/sigdefer"
	"github.com/brindlecode/scmwalk/pkg/telemetry"
)

// Version is the on-disk cache format version. Bump it whenever a change
// to the wire format or a backend's encoding makes previously-written
// caches unsafe to reuse (see CheckVersion's gating table).
const Version uint32 = 5

// defaultShardCap is the default size at which a shard file is rotated.
const defaultShardCap int64 = 4 << 20

const (
	indexFileName = "index"
	lockFileName  = "lock"
	shardPrefix   = "cache."
)

// Error wraps a failure encountered while touching the on-disk cache —
// a corrupt or unreadable shard, an unwritable index — with the operation
// and path involved, the single error kind every cache I/O failure
// surfaces as.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op, path string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Op: op, Path: path, Err: err}
}

// Check reports the result of comparing a stored cache version against
// Version, for the given backend kind. Version 0 is Unknown. Version 1 is
// out of date for every backend (flawed diffstats in both the Mercurial
// and Git backends); versions 2 and below are out of date for "svn"
// (repository-wide diffstat fix); versions 4 and below are out of date
// for "git" (corrected commit times, see pkg/scm/gitcli's UTC-offset
// handling).
type Check int

const (
	// Ok means the cache can be used as-is.
	Ok Check = iota
	// OutOfDate means the cache format or backend encoding changed
	// incompatibly; a clear (optionally forced) is required.
	OutOfDate
	// Unknown means the stored version is 0 or newer than this binary
	// understands.
	Unknown
)

// CheckVersion applies the gating table above.
func CheckVersion(backendName string, stored uint32) Check {
	if stored == 0 {
		return Unknown
	}

	if stored <= 1 {
		return OutOfDate
	}

	if stored <= 2 && backendName == "subversion" {
		return OutOfDate
	}

	if stored <= 2 && backendName == "svn" {
		return OutOfDate
	}

	if stored <= 4 && backendName == "git" {
		return OutOfDate
	}

	if stored <= Version {
		return Ok
	}

	return Unknown
}

type indexEntry struct {
	shard  uint32
	offset uint32
	crc    uint32
}

// Option configures a Cache at construction.
type Option func(*Cache)

// WithMetrics attaches hit/miss telemetry instruments.
func WithMetrics(m *telemetry.CacheMetrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithShardCap overrides the per-shard size limit that triggers rotation.
func WithShardCap(n int64) Option {
	return func(c *Cache) { c.shardCap = n }
}

// Cache decorates an scm.Backend with a durable revision cache, keyed by
// revision ID, stored under <baseDir>/<backend UUID>/.
type Cache struct {
	backend  scm.Backend
	baseDir  string
	shardCap int64
	metrics  *telemetry.CacheMetrics
	logger   *slog.Logger

	mu           sync.Mutex
	uuid         string
	dir          string
	loaded       bool
	versionState Check
	currentShard uint32
	index        map[string]indexEntry
	lock         *os.File
}

var _ scm.Backend = (*Cache)(nil)

// Open creates a Cache decorating backend, rooted at baseDir. The
// repository's cache directory (baseDir/backend.UUID()) is created and
// locked immediately; the index itself is loaded lazily on first use.
func Open(ctx context.Context, backend scm.Backend, baseDir string, opts ...Option) (*Cache, error) {
	uuid, err := backend.UUID(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve backend uuid: %w", err)
	}

	c := &Cache{
		backend:  backend,
		baseDir:  baseDir,
		shardCap: defaultShardCap,
		logger:   slog.Default(),
		uuid:     uuid,
		dir:      filepath.Join(baseDir, uuid),
		index:    make(map[string]indexEntry),
	}

	for _, opt := range opts {
		opt(c)
	}

	created, err := ensureDir(c.dir)
	if err != nil {
		return nil, wrapErr("create cache directory", c.dir, err)
	}

	if err := c.acquireLock(); err != nil {
		return nil, err
	}

	sigdefer.Start(func() { _ = c.Flush() })

	if created {
		c.loaded = true

		return c, nil
	}

	return c, nil
}

// ensureDir creates path (and parents) if it doesn't exist, reporting
// whether it had to.
func ensureDir(path string) (created bool, err error) {
	if fi, statErr := os.Stat(path); statErr == nil && fi.IsDir() {
		return false, nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return false, err
	}

	return true, nil
}

// Name implements scm.Backend.
func (c *Cache) Name() string { return c.backend.Name() }

// UUID implements scm.Backend.
func (c *Cache) UUID(context.Context) (string, error) { return c.uuid, nil }

// Head implements scm.Backend.
func (c *Cache) Head(ctx context.Context, branch string) (string, error) {
	return c.backend.Head(ctx, branch)
}

// MainBranch implements scm.Backend.
func (c *Cache) MainBranch(ctx context.Context) (string, error) {
	return c.backend.MainBranch(ctx)
}

// Branches implements scm.Backend.
func (c *Cache) Branches(ctx context.Context) ([]string, error) {
	return c.backend.Branches(ctx)
}

// Tags implements scm.Backend.
func (c *Cache) Tags(ctx context.Context) ([]revision.Tag, error) {
	return c.backend.Tags(ctx)
}

// Tree implements scm.Backend.
func (c *Cache) Tree(ctx context.Context, id string) ([]string, error) {
	return c.backend.Tree(ctx, id)
}

// Cat implements scm.Backend.
func (c *Cache) Cat(ctx context.Context, path, id string) ([]byte, error) {
	return c.backend.Cat(ctx, path, id)
}

// LogIterator implements scm.Backend.
func (c *Cache) LogIterator(ctx context.Context, branch string, start, end int64) (scm.IDIterator, error) {
	return c.backend.LogIterator(ctx, branch, start, end)
}

// Prefetch implements scm.Backend: only revisions not already cached are
// worth prefetching from the wrapped backend.
func (c *Cache) Prefetch(ids []string) {
	if err := c.ensureLoaded(); err != nil {
		c.logger.Warn("cache: failed to load index before prefetch", "error", err)
		c.backend.Prefetch(ids)

		return
	}

	c.mu.Lock()

	missing := make([]string, 0, len(ids))

	for _, id := range ids {
		if _, ok := c.index[id]; !ok {
			missing = append(missing, id)
		}
	}

	c.mu.Unlock()

	if len(missing) > 0 {
		c.backend.Prefetch(missing)
	}
}

// Revision implements scm.Backend: a cache hit returns the stored
// Revision directly; a miss fetches it from the backend and stores it.
func (c *Cache) Revision(ctx context.Context, id string) (revision.Revision, error) {
	if ok, rev := c.tryGet(id); ok {
		c.recordHit(ctx)

		return rev, nil
	}

	c.recordMiss(ctx)

	rev, err := c.backend.Revision(ctx, id)
	if err != nil {
		return revision.Revision{}, err
	}

	if err := c.Put(id, rev); err != nil {
		c.logger.Warn("cache: failed to store revision", "id", id, "error", err)
	}

	return rev, nil
}

// Metadata implements scm.Backend. A cached full Revision also satisfies a
// metadata request, since the cache only ever stores complete records.
func (c *Cache) Metadata(ctx context.Context, id string) (revision.Revision, error) {
	if ok, rev := c.tryGet(id); ok {
		c.recordHit(ctx)

		return rev, nil
	}

	c.recordMiss(ctx)

	return c.backend.Metadata(ctx, id)
}

// Diffstat implements scm.Backend.
func (c *Cache) Diffstat(ctx context.Context, id string) (diffstat.Diffstat, error) {
	if ok, rev := c.tryGet(id); ok {
		c.recordHit(ctx)

		return rev.Diffstat, nil
	}

	c.recordMiss(ctx)

	return c.backend.Diffstat(ctx, id)
}

func (c *Cache) tryGet(id string) (bool, revision.Revision) {
	if err := c.ensureLoaded(); err != nil {
		return false, revision.Revision{}
	}

	c.mu.Lock()
	_, ok := c.index[id]
	c.mu.Unlock()

	if !ok {
		return false, revision.Revision{}
	}

	rev, err := c.Get(id)
	if err != nil {
		c.logger.Warn("cache: failed to read stored revision", "id", id, "error", err)

		return false, revision.Revision{}
	}

	return true, rev
}

func (c *Cache) recordHit(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.RecordHit(ctx)
	}
}

func (c *Cache) recordMiss(ctx context.Context) {
	if c.metrics != nil {
		c.metrics.RecordMiss(ctx)
	}
}

// Lookup reports whether id is already present in the cache, loading the
// index on first use.
func (c *Cache) Lookup(id string) bool {
	if err := c.ensureLoaded(); err != nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.index[id]

	return ok
}

// Finalize implements scm.Backend: flushes the cache, then finalizes the
// wrapped backend.
func (c *Cache) Finalize() error {
	if err := c.Flush(); err != nil {
		return err
	}

	return c.backend.Finalize()
}

// Flush is a no-op: Put and Get each open and close their own shard/index
// handles, so there is nothing buffered to persist. It exists so callers
// can treat the cache like any other flush-on-checkpoint component.
func (c *Cache) Flush() error { return nil }

// Close releases the cache directory's lock. After Close, the Cache must
// not be used again.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lock != nil {
		err := c.lock.Close()
		c.lock = nil

		if err != nil {
			return fmt.Errorf("release cache lock: %w", err)
		}
	}

	return nil
}

// Clear deletes every file in the cache directory and resets the
// in-memory index, without releasing the directory lock.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.clearDirLocked(); err != nil {
		return err
	}

	c.resetLocked()

	return nil
}

// clearDirLocked removes every file in the cache directory except the
// lock file itself. Called with c.mu held.
func (c *Cache) clearDirLocked() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return wrapErr("read cache directory", c.dir, err)
	}

	for _, e := range entries {
		if e.Name() == lockFileName {
			continue
		}

		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return wrapErr("remove cache file", filepath.Join(c.dir, e.Name()), err)
		}
	}

	return nil
}

func (c *Cache) resetLocked() {
	c.index = make(map[string]indexEntry)
	c.loaded = false
	c.currentShard = 0
	c.versionState = Ok
}

// ensureLoaded loads the index from disk exactly once. Guarded by
// sigdefer so a signal mid-load can't observe a half-populated index.
func (c *Cache) ensureLoaded() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return nil
	}

	guard := sigdefer.Scope()
	defer guard.Close()

	if err := c.loadIndexLocked(); err != nil {
		return err
	}

	c.loaded = true

	return nil
}
