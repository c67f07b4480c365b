// Package repository is the consumer-facing façade over an scm.Backend
// (optionally cache-decorated): repository metadata lookups plus Walk, the
// fetch-and-yield loop report scripts drive over a branch's history.
package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brindlecode/scmwalk/pkg/revision"
	"github.com/brindlecode/scmwalk/pkg/reviter"
	"github.com/brindlecode/scmwalk/pkg/scm"
)

// Repository couples a backend (a concrete adapter, or one wrapped by
// pkg/cache) with the location string it was opened from, for reporting.
type Repository struct {
	backend  scm.Backend
	location string
	logger   *slog.Logger
}

// Option configures a Repository at construction.
type Option func(*Repository)

// WithLogger attaches a structured logger, used to report Walk progress.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.logger = l }
}

// New wraps backend, recording location (the path or URL it was opened
// from) for URL().
func New(backend scm.Backend, location string, opts ...Option) *Repository {
	r := &Repository{backend: backend, location: location, logger: slog.Default()}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Backend returns the wrapped backend, for callers that need direct
// access (e.g. to decorate it with pkg/cache before constructing a
// Repository in the first place, or to call Finalize independently).
func (r *Repository) Backend() scm.Backend { return r.backend }

// URL returns the path or URL the repository was opened from.
func (r *Repository) URL() string { return r.location }

// Type returns the backend kind ("git", "svn").
func (r *Repository) Type() string { return r.backend.Name() }

// Head resolves branch (or the default branch if empty) to a revision ID.
func (r *Repository) Head(ctx context.Context, branch string) (string, error) {
	return r.backend.Head(ctx, branch)
}

// DefaultBranch returns the repository's default branch name.
func (r *Repository) DefaultBranch(ctx context.Context) (string, error) {
	return r.backend.MainBranch(ctx)
}

// Branches lists all branch names.
func (r *Repository) Branches(ctx context.Context) ([]string, error) {
	return r.backend.Branches(ctx)
}

// Tags lists all tags, ordered by name.
func (r *Repository) Tags(ctx context.Context) ([]revision.Tag, error) {
	return r.backend.Tags(ctx)
}

// Tree lists the paths present at id (or HEAD if empty).
func (r *Repository) Tree(ctx context.Context, id string) ([]string, error) {
	return r.backend.Tree(ctx, id)
}

// Cat returns the content of path as it existed at id.
func (r *Repository) Cat(ctx context.Context, path, id string) ([]byte, error) {
	return r.backend.Cat(ctx, path, id)
}

// Revision fetches full metadata and diffstat for id.
func (r *Repository) Revision(ctx context.Context, id string) (revision.Revision, error) {
	return r.backend.Revision(ctx, id)
}

// Iterator starts a RevisionIterator over branch within [start, end] (Unix
// seconds; zero means unbounded), with prefetching enabled.
func (r *Repository) Iterator(ctx context.Context, branch string, start, end int64) (*reviter.RevisionIterator, error) {
	return reviter.NewDefault(ctx, r.backend, branch, start, end)
}

// WalkFunc is called once per revision encountered by Walk, in log order.
// Returning an error aborts the walk.
type WalkFunc func(ctx context.Context, rev revision.Revision) error

// Walk drives a RevisionIterator to completion over branch within [start,
// end], fetching each revision's full metadata and diffstat and invoking
// fn for it, then finalizes the backend. It is the batch counterpart to
// consuming Iterator by hand: a report that just wants "every revision in
// order" should call this instead.
func (r *Repository) Walk(ctx context.Context, branch string, start, end int64, fn WalkFunc) error {
	r.logger.Info("repository: starting walk", "branch", branch)

	it, err := r.Iterator(ctx, branch, start, end)
	if err != nil {
		return fmt.Errorf("initialize revision iterator: %w", err)
	}
	defer it.Close()

	lastProgress := -1

	for !it.AtEnd() {
		id, ok := it.Next()
		if !ok {
			break
		}

		rev, err := r.backend.Revision(ctx, id)
		if err != nil {
			return fmt.Errorf("fetch revision %s: %w", id, err)
		}

		if err := fn(ctx, rev); err != nil {
			return fmt.Errorf("process revision %s: %w", id, err)
		}

		if progress := it.Progress(); progress != lastProgress {
			lastProgress = progress
			r.logger.Debug("repository: walk progress", "branch", branch, "percent", progress)
		}
	}

	r.logger.Info("repository: walk complete", "branch", branch)

	if err := r.backend.Finalize(); err != nil {
		return fmt.Errorf("finalize backend: %w", err)
	}

	return nil
}
