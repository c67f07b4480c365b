// Package scm defines the capability-set interface shared by every SCM
// backend adapter and by the Cache decorator that wraps one: revision
// enumeration, metadata/diffstat lookup, and prefetch hinting.
package scm

import (
	"context"

	"github.com/brindlecode/scmwalk/pkg/diffstat"
	"github.com/brindlecode/scmwalk/pkg/revision"
)

// Backend is the operation set common to every concrete adapter and to the
// Cache, which decorates a Backend transparently (the cache is-a backend
// from the iterator's point of view).
type Backend interface {
	// Name identifies the backend kind ("git", "svn"), used by the cache's
	// version-gate table.
	Name() string

	// UUID returns a stable repository identifier.
	UUID(ctx context.Context) (string, error)
	// Head resolves branch (or the default branch if empty) to a revision ID.
	Head(ctx context.Context, branch string) (string, error)
	// MainBranch returns the repository's default branch name.
	MainBranch(ctx context.Context) (string, error)
	// Branches lists all branch names.
	Branches(ctx context.Context) ([]string, error)
	// Tags lists all tags, ordered by name.
	Tags(ctx context.Context) ([]revision.Tag, error)
	// Tree lists the paths present at id (or HEAD if empty).
	Tree(ctx context.Context, id string) ([]string, error)
	// Cat returns the content of path as it existed at id.
	Cat(ctx context.Context, path, id string) ([]byte, error)

	// LogIterator returns a producer of revision IDs for branch within the
	// optional [start, end] time window (Unix seconds; zero means
	// unbounded).
	LogIterator(ctx context.Context, branch string, start, end int64) (IDIterator, error)

	// Revision fetches full metadata and diffstat for id, synchronously.
	Revision(ctx context.Context, id string) (revision.Revision, error)
	// Metadata fetches only date/author/message for id (no diffstat) — the
	// unit of work the prefetcher's metadata pool batches.
	Metadata(ctx context.Context, id string) (revision.Revision, error)
	// Diffstat fetches only the diffstat for id — the unit of work the
	// prefetcher's diffstat pool parallelizes.
	Diffstat(ctx context.Context, id string) (diffstat.Diffstat, error)

	// Prefetch hints that ids will soon be requested via Revision/Diffstat.
	Prefetch(ids []string)

	// Finalize releases backend resources (subprocess sessions, etc).
	Finalize() error
}

// BatchMetadataBackend is implemented by backends that can fetch several
// commits' metadata in a single round trip (the distributed case's batched
// log-header request). The prefetcher's metadata pool type-asserts for
// this and falls back to one-at-a-time Metadata calls when a backend (e.g.
// the centralized adapter) doesn't implement it.
type BatchMetadataBackend interface {
	// BatchMetadata fetches metadata for every id in one request, returning
	// a result keyed by id. A batch-level failure (e.g. the subprocess
	// itself errors) is returned as err with a nil map; the caller is
	// expected to retry the batch's ids individually in that case.
	BatchMetadata(ctx context.Context, ids []string) (map[string]revision.Revision, error)
}

// IDIterator is the producer half of a LogIterator: NextIDs blocks until at
// least one new ID is available or the producer has finished.
type IDIterator interface {
	// NextIDs blocks until new IDs are appended to out, or the producer has
	// terminated with nothing left to deliver (returns false).
	NextIDs() (ids []string, more bool)
	// Close stops the producer and releases its resources.
	Close() error
}
