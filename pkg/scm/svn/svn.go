// Package svn implements the centralized-revision-number scm.Backend by
// shelling out to the system svn client, using --xml output wherever
// available for structured parsing instead of screen-scraping plain text.
package svn

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"os/exec"

	"github.com/brindlecode/scmwalk/pkg/diffstat"
	"github.com/brindlecode/scmwalk/pkg/logiter"
	"github.com/brindlecode/scmwalk/pkg/prefetch"
	"github.com/brindlecode/scmwalk/pkg/revision"
	"github.com/brindlecode/scmwalk/pkg/scm"
	"github.com/brindlecode/scmwalk/pkg/telemetry"
)

// logWindowSize bounds how many revisions a single "svn log" invocation
// requests at once. Local file:// repositories pay no round-trip penalty,
// so the window is left unbounded for them.
const logWindowSize = 1024

// Option configures a Backend at construction.
type Option func(*Backend)

// WithLogger attaches a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithMetrics attaches prefetch telemetry instruments.
func WithMetrics(m *telemetry.PrefetchMetrics) Option {
	return func(b *Backend) { b.metrics = m }
}

// WithPrefetchWorkers overrides the diffstat worker pool size. Local
// file:// repositories default to a smaller pool since there's no network
// latency to hide.
func WithPrefetchWorkers(n int) Option {
	return func(b *Backend) { b.workers = n }
}

// WithLayout overrides the trunk/branches/tags subdirectory names.
// Defaults match the conventional Subversion layout.
func WithLayout(trunk, branches, tags string) Option {
	return func(b *Backend) {
		b.trunk, b.branches, b.tags = trunk, branches, tags
	}
}

// Backend adapts a Subversion repository (local or remote) to scm.Backend.
type Backend struct {
	url    string
	prefix string

	trunk, branches, tags string

	logger  *slog.Logger
	metrics *telemetry.PrefetchMetrics
	workers int

	mu         sync.Mutex
	prefetcher *prefetch.Prefetcher
}

var _ scm.Backend = (*Backend)(nil)

// Open canonicalizes url (prefixing bare local paths with file://) and
// determines the repository root/prefix by querying `svn info`.
func Open(ctx context.Context, url string, opts ...Option) (*Backend, error) {
	if strings.HasPrefix(url, "/") {
		url = "file://" + url
	}

	b := &Backend{
		url:      url,
		trunk:    "trunk",
		branches: "branches",
		tags:     "tags",
		logger:   slog.Default(),
		workers:  10,
	}

	if strings.HasPrefix(url, "file://") {
		b.workers = 4
	}

	for _, opt := range opts {
		opt(b)
	}

	info, err := b.info(ctx, url, "")
	if err != nil {
		return nil, fmt.Errorf("open subversion repository %s: %w", url, err)
	}

	b.prefix = strings.TrimPrefix(info.URL, info.RepositoryRoot)
	b.url = info.RepositoryRoot

	return b, nil
}

type svnInfo struct {
	XMLName xml.Name `xml:"info"`
	Entry   struct {
		URL            string `xml:"url"`
		RepositoryRoot string `xml:"repository>root"`
		UUID           string `xml:"repository>uuid"`
		Commit         struct {
			Revision int64  `xml:"revision,attr"`
			Author   string `xml:"author"`
			Date     string `xml:"date"`
		} `xml:"commit"`
	} `xml:"entry"`
}

func (b *Backend) info(ctx context.Context, target, rev string) (struct {
	URL, RepositoryRoot, UUID string
	Revision                  int64
}, error) {
	args := []string{"info", "--xml", target}
	if rev != "" {
		args = append(args, "-r", rev)
	}

	out, err := b.run(ctx, args...)

	type result struct {
		URL, RepositoryRoot, UUID string
		Revision                  int64
	}

	if err != nil {
		return result{}, err
	}

	var parsed svnInfo
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		return result{}, fmt.Errorf("parse svn info xml: %w", err)
	}

	return result{
		URL:            parsed.Entry.URL,
		RepositoryRoot: parsed.Entry.RepositoryRoot,
		UUID:           parsed.Entry.UUID,
		Revision:       parsed.Entry.Commit.Revision,
	}, nil
}

func (b *Backend) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "svn", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("svn %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return stdout.String(), nil
}

// Name implements scm.Backend.
func (b *Backend) Name() string { return "svn" }

// UUID implements scm.Backend.
func (b *Backend) UUID(ctx context.Context) (string, error) {
	info, err := b.info(ctx, b.url, "")
	if err != nil {
		return "", err
	}

	return info.UUID, nil
}

func (b *Backend) branchPrefix(branch string) string {
	switch {
	case branch == "" || branch == b.trunk:
		return b.trunk
	default:
		return b.branches + "/" + branch
	}
}

// Head implements scm.Backend.
func (b *Backend) Head(ctx context.Context, branch string) (string, error) {
	prefix := b.branchPrefix(branch)

	info, err := b.info(ctx, b.url+"/"+prefix, "")
	if err != nil {
		if prefix == b.trunk {
			info, err = b.info(ctx, b.url, "")
		}

		if err != nil {
			return "", fmt.Errorf("determine head revision for branch %s: %w", branch, err)
		}
	}

	return strconv.FormatInt(info.Revision, 10), nil
}

// MainBranch implements scm.Backend.
func (b *Backend) MainBranch(context.Context) (string, error) {
	return b.trunk, nil
}

// Branches implements scm.Backend.
func (b *Backend) Branches(ctx context.Context) ([]string, error) {
	names, err := b.listDir(ctx, b.branches)
	if err != nil {
		return []string{b.trunk}, nil //nolint:nilerr // no branches dir is not an error condition
	}

	out := append([]string{b.trunk}, names...)
	sort.Strings(out[1:])

	return out, nil
}

// Tags implements scm.Backend.
func (b *Backend) Tags(ctx context.Context) ([]revision.Tag, error) {
	entries, err := b.listDirWithRevs(ctx, b.tags)
	if err != nil {
		return nil, nil //nolint:nilerr // no tags directory just means no tags
	}

	tags := make([]revision.Tag, 0, len(entries))
	for _, e := range entries {
		tags = append(tags, revision.Tag{Name: e.name, ID: strconv.FormatInt(e.rev, 10)})
	}

	return tags, nil
}

type svnList struct {
	Entries []struct {
		Kind    string `xml:"kind,attr"`
		Name    string `xml:"name"`
		Commit  struct {
			Revision int64 `xml:"revision,attr"`
		} `xml:"commit"`
	} `xml:"list>entry"`
}

func (b *Backend) listDir(ctx context.Context, path string) ([]string, error) {
	entries, err := b.listDirWithRevs(ctx, path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.name)
	}

	return names, nil
}

func (b *Backend) listDirWithRevs(ctx context.Context, path string) ([]struct {
	name string
	rev  int64
}, error) {
	out, err := b.run(ctx, "list", "--xml", b.url+"/"+path)

	type entry struct {
		name string
		rev  int64
	}

	if err != nil {
		return nil, err
	}

	var parsed svnList
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("parse svn list xml: %w", err)
	}

	var entries []entry

	for _, e := range parsed.Entries {
		if e.Kind == "dir" {
			entries = append(entries, entry{name: e.Name, rev: e.Commit.Revision})
		}
	}

	return entries, nil
}

// Tree implements scm.Backend, walking the repository tree recursively
// using `svn list --recursive`.
func (b *Backend) Tree(ctx context.Context, id string) ([]string, error) {
	args := []string{"list", "--xml", "--recursive"}
	if id != "" {
		args = append(args, "-r", id)
	}

	args = append(args, b.url)

	out, err := b.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("list tree for %s: %w", id, err)
	}

	var parsed svnList
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		return nil, fmt.Errorf("parse svn list xml: %w", err)
	}

	var files []string

	for _, e := range parsed.Entries {
		if e.Kind == "file" {
			files = append(files, e.Name)
		}
	}

	return files, nil
}

// Cat implements scm.Backend.
func (b *Backend) Cat(ctx context.Context, path, id string) ([]byte, error) {
	args := []string{"cat", b.url + "/" + path}
	if id != "" {
		args = append(args, "-r", id)
	}

	cmd := exec.CommandContext(ctx, "svn", args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("svn cat %s@%s: %w: %s", path, id, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

type svnLog struct {
	Entries []struct {
		Revision int64  `xml:"revision,attr"`
		Author   string `xml:"author"`
		Date     string `xml:"date"`
		Msg      string `xml:"msg"`
	} `xml:"logentry"`
}

// LogIterator implements scm.Backend, paginating through history in
// windows of logWindowSize revisions (unbounded for local file://
// repositories, which pay no round-trip cost per request).
func (b *Backend) LogIterator(ctx context.Context, branch string, start, end int64) (scm.IDIterator, error) {
	prefix := b.branchPrefix(branch)

	startRev, err := b.revisionAtTime(ctx, start)
	if err != nil {
		return nil, err
	}

	endRev := end
	if end > 0 {
		endRev, err = b.revisionAtTime(ctx, end)
		if err != nil {
			return nil, err
		}
	} else {
		head, err := b.Head(ctx, branch)
		if err != nil {
			return nil, err
		}

		endRev, _ = strconv.ParseInt(head, 10, 64)
	}

	window := int64(logWindowSize)
	if strings.HasPrefix(b.url, "file://") {
		window = 0
	}

	it := logiter.Start(ctx, func(ctx context.Context, emit func(ids []string)) error {
		wstart := startRev
		lastStart := startRev
		prevRev := int64(-1)

		for wstart < endRev-1 {
			limit := ""
			if window > 0 {
				limit = strconv.FormatInt(window, 10)
			}

			args := []string{"log", "--xml", "-r", fmt.Sprintf("%d:%d", wstart, endRev)}
			if limit != "" {
				args = append(args, "--limit", limit)
			}

			args = append(args, b.url+"/"+prefix)

			out, err := b.run(ctx, args...)
			if err != nil {
				return fmt.Errorf("fetch log window [%d:%d]: %w", wstart, endRev, err)
			}

			var parsed svnLog
			if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
				return fmt.Errorf("parse svn log xml: %w", err)
			}

			latest := prevRev

			for _, e := range parsed.Entries {
				id := strconv.FormatInt(e.Revision, 10)
				if prevRev >= 0 {
					id = strconv.FormatInt(prevRev, 10) + ":" + id
				}

				emit([]string{id})
				prevRev = e.Revision
				latest = e.Revision
			}

			if latest+1 > lastStart {
				lastStart = latest + 1
			} else if window > 0 {
				lastStart += window
			} else {
				break
			}

			wstart = lastStart
		}

		return nil
	})

	return it, nil
}

func (b *Backend) revisionAtTime(ctx context.Context, unixSeconds int64) (int64, error) {
	if unixSeconds <= 0 {
		return 0, nil
	}

	t := time.Unix(unixSeconds, 0).UTC().Format("2006-01-02T15:04:05Z")

	info, err := b.info(ctx, b.url, "{"+t+"}")
	if err != nil {
		return 0, fmt.Errorf("resolve dated revision: %w", err)
	}

	return info.Revision, nil
}

// Diffstat implements scm.Backend by running `svn diff --internal-diff`
// and streaming its output through the unified-diff parser on a second
// goroutine, so large diffs don't need to be buffered in memory first.
func (b *Backend) Diffstat(ctx context.Context, id string) (diffstat.Diffstat, error) {
	b.mu.Lock()
	prefetcher := b.prefetcher
	b.mu.Unlock()

	if prefetcher != nil && prefetcher.WillFetch(id) {
		stat, ok := prefetcher.GetDiffstat(id)
		if !ok {
			return diffstat.Diffstat{}, fmt.Errorf("prefetch failed for revision %s", id)
		}

		return stat, nil
	}

	r1, r2, err := splitRevisionPair(id)
	if err != nil {
		return diffstat.Diffstat{}, err
	}

	stat, err := b.diffstatRange(ctx, r1, r2)
	if err != nil {
		return diffstat.Diffstat{}, err
	}

	if len(b.prefix) > 1 {
		stat = stat.Filter(b.prefix[1:])
	}

	return stat, nil
}

func splitRevisionPair(id string) (r1, r2 int64, err error) {
	parent, child, ok := strings.Cut(id, ":")
	if ok {
		r1, err = strconv.ParseInt(parent, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("parse revision %s: %w", id, err)
		}

		r2, err = strconv.ParseInt(child, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("parse revision %s: %w", id, err)
		}

		return r1, r2, nil
	}

	r2, err = strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse revision %s: %w", id, err)
	}

	return r2 - 1, r2, nil
}

func (b *Backend) diffstatRange(ctx context.Context, r1, r2 int64) (diffstat.Diffstat, error) {
	cmd := exec.CommandContext(ctx, "svn", "diff", "--internal-diff", "-r",
		fmt.Sprintf("%d:%d", r1, r2), b.url)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return diffstat.Diffstat{}, fmt.Errorf("pipe svn diff stdout: %w", err)
	}

	var stderr bytes.Buffer

	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return diffstat.Diffstat{}, fmt.Errorf("start svn diff: %w", err)
	}

	pr, pw := io.Pipe()

	go func() {
		_, copyErr := io.Copy(pw, stdout)
		pw.CloseWithError(copyErr)
	}()

	stat, parseErr := diffstat.Parse(pr)

	waitErr := cmd.Wait()
	if waitErr != nil {
		return diffstat.Diffstat{}, fmt.Errorf("svn diff -r %d:%d: %w: %s", r1, r2, waitErr, strings.TrimSpace(stderr.String()))
	}

	if parseErr != nil {
		return diffstat.Diffstat{}, fmt.Errorf("parse diff for %d:%d: %w", r1, r2, parseErr)
	}

	return stat, nil
}

// Prefetch implements scm.Backend.
func (b *Backend) Prefetch(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.prefetcher == nil {
		b.prefetcher = prefetch.Start(context.Background(), b, b.workers, prefetch.WithMetrics(b.metrics))
	}

	b.prefetcher.Prefetch(ids)
}

// Revision implements scm.Backend.
func (b *Backend) Revision(ctx context.Context, id string) (revision.Revision, error) {
	meta, err := b.Metadata(ctx, id)
	if err != nil {
		return revision.Revision{}, err
	}

	stat, err := b.Diffstat(ctx, id)
	if err != nil {
		return revision.Revision{}, err
	}

	meta.Diffstat = stat

	return meta, nil
}

// Metadata implements scm.Backend, reading revision properties
// (svn:author, svn:date, svn:log) rather than the changed-paths list.
func (b *Backend) Metadata(ctx context.Context, id string) (revision.Revision, error) {
	_, rev, ok := strings.Cut(id, ":")
	if !ok {
		rev = id
	}

	out, err := b.run(ctx, "log", "--xml", "-r", rev, b.url)
	if err != nil {
		return revision.Revision{}, fmt.Errorf("retrieve metadata for %s: %w", id, err)
	}

	var parsed svnLog
	if err := xml.Unmarshal([]byte(out), &parsed); err != nil {
		return revision.Revision{}, fmt.Errorf("parse svn log xml: %w", err)
	}

	if len(parsed.Entries) == 0 {
		return revision.Revision{}, fmt.Errorf("no log entry for revision %s", id)
	}

	e := parsed.Entries[0]

	date, err := time.Parse(time.RFC3339Nano, e.Date)
	if err != nil {
		return revision.Revision{}, fmt.Errorf("parse commit date %q: %w", e.Date, err)
	}

	return revision.New(id, date.Unix(), e.Author, strings.TrimRight(e.Msg, "\n"), diffstat.New()), nil
}

// Finalize implements scm.Backend.
func (b *Backend) Finalize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.prefetcher != nil {
		b.prefetcher.Stop()
		b.prefetcher = nil
	}

	return nil
}
