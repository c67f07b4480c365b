// Package gitcli implements the distributed-commit-graph scm.Backend by
// shelling out to the system git binary. Every read goes through a single
// exec helper so GIT_DIR resolution and error wrapping stay in one place.
package gitcli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/brindlecode/scmwalk/pkg/diffstat"
	"github.com/brindlecode/scmwalk/pkg/logiter"
	"github.com/brindlecode/scmwalk/pkg/prefetch"
	"github.com/brindlecode/scmwalk/pkg/revision"
	"github.com/brindlecode/scmwalk/pkg/scm"
	"github.com/brindlecode/scmwalk/pkg/telemetry"
)

// uuidSidecar is the name of the root-commit cache file kept alongside the
// repository's GIT_DIR, mirroring the branch/head/root cache the original
// tool kept next to the object database.
const uuidSidecar = "scmwalk-uuid"

// Option configures a Backend at construction.
type Option func(*Backend)

// WithLogger attaches a structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithMetrics attaches prefetch telemetry instruments.
func WithMetrics(m *telemetry.PrefetchMetrics) Option {
	return func(b *Backend) { b.metrics = m }
}

// WithPrefetchWorkers sets the diffstat worker pool size used once Prefetch
// is first called. Defaults to 2.
func WithPrefetchWorkers(n int) Option {
	return func(b *Backend) { b.workers = n }
}

// Backend adapts a local git repository to scm.Backend.
type Backend struct {
	gitDir  string
	workdir string
	logger  *slog.Logger
	metrics *telemetry.PrefetchMetrics
	workers int

	mu         sync.Mutex
	prefetcher *prefetch.Prefetcher
}

var _ scm.Backend = (*Backend)(nil)

// Open resolves path to a GIT_DIR, following a .git file (as left behind by
// worktrees and submodules) one level, and returns a ready Backend.
func Open(ctx context.Context, path string, opts ...Option) (*Backend, error) {
	gitDir, err := resolveGitDir(path)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		gitDir:  gitDir,
		workdir: path,
		logger:  slog.Default(),
		workers: 2,
	}

	for _, opt := range opts {
		opt(b)
	}

	if _, err := b.run(ctx, "rev-parse", "--is-inside-work-tree"); err != nil {
		if _, err2 := b.run(ctx, "rev-parse", "--is-bare-repository"); err2 != nil {
			return nil, fmt.Errorf("not a git repository: %s", path)
		}
	}

	return b, nil
}

// resolveGitDir follows the redirection rules git itself uses: a bare repo
// has HEAD+objects directly, a worktree has a .git directory, and a linked
// worktree or submodule has a .git *file* containing "gitdir: <path>".
func resolveGitDir(path string) (string, error) {
	if fi, err := os.Stat(filepath.Join(path, "HEAD")); err == nil && !fi.IsDir() {
		if _, err := os.Stat(filepath.Join(path, "objects")); err == nil {
			return path, nil
		}
	}

	dotGit := filepath.Join(path, ".git")

	if fi, err := os.Stat(dotGit); err == nil {
		if fi.IsDir() {
			return dotGit, nil
		}

		data, err := os.ReadFile(dotGit)
		if err != nil {
			return "", fmt.Errorf("read .git file: %w", err)
		}

		line := strings.TrimSpace(string(data))

		rest, ok := strings.CutPrefix(line, "gitdir:")
		if !ok {
			return "", fmt.Errorf("unrecognized .git file contents: %q", line)
		}

		gitDir := strings.TrimSpace(rest)
		if !filepath.IsAbs(gitDir) {
			gitDir = filepath.Join(path, gitDir)
		}

		return filepath.Clean(gitDir), nil
	}

	return "", fmt.Errorf("not a git repository: %s", path)
}

// run invokes git with GIT_DIR pinned to the resolved repository and
// returns stdout with trailing newline trimmed.
func (b *Backend) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"--git-dir", b.gitDir}, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimRight(stdout.String(), "\n"), nil
}

// runPipe is like run, but returns a live stdout pipe instead of buffering
// it, for commands whose output the caller streams incrementally.
func (b *Backend) runPipe(ctx context.Context, args ...string) (*exec.Cmd, *bufio.Reader, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"--git-dir", b.gitDir}, args...)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("pipe stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start git %s: %w", strings.Join(args, " "), err)
	}

	return cmd, bufio.NewReader(stdout), nil
}

// Name implements scm.Backend.
func (b *Backend) Name() string { return "git" }

// UUID returns the root commit of the repository's main branch, caching the
// (head, root) pair next to GIT_DIR so repeated runs can skip the full
// history walk as long as the cached head is still an ancestor of HEAD.
func (b *Backend) UUID(ctx context.Context) (string, error) {
	branch, err := b.MainBranch(ctx)
	if err != nil {
		return "", err
	}

	head, err := b.Head(ctx, branch)
	if err != nil {
		return "", err
	}

	cachePath := filepath.Join(b.gitDir, uuidSidecar)

	if oldHead, oldRoot, ok := readUUIDCache(cachePath, branch); ok {
		if oldHead == head {
			return oldRoot, nil
		}

		if _, err := b.run(ctx, "merge-base", "--is-ancestor", oldHead, head); err == nil {
			writeUUIDCache(cachePath, branch, head, oldRoot)

			return oldRoot, nil
		}
	}

	out, err := b.run(ctx, "rev-list", "--reverse", "--max-parents=0", branch, "--")
	if err != nil {
		return "", fmt.Errorf("determine root commit for %s: %w", branch, err)
	}

	lines := strings.Split(out, "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", fmt.Errorf("repository %s has no root commit", branch)
	}

	root := lines[0]
	writeUUIDCache(cachePath, branch, head, root)

	return root, nil
}

func readUUIDCache(path, branch string) (head, root string, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", false
	}

	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == branch {
			return fields[1], fields[2], true
		}
	}

	return "", "", false
}

func writeUUIDCache(path, branch, head, root string) {
	entries := map[string][2]string{branch: {head, root}}

	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(string(data), "\n") {
			fields := strings.Fields(line)
			if len(fields) == 3 && fields[0] != branch {
				entries[fields[0]] = [2]string{fields[1], fields[2]}
			}
		}
	}

	var buf bytes.Buffer

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(&buf, "%s %s %s\n", name, entries[name][0], entries[name][1])
	}

	tmp := path + ".tmp"
	if os.WriteFile(tmp, buf.Bytes(), 0o644) == nil {
		os.Rename(tmp, path)
	}
}

// Head implements scm.Backend.
func (b *Backend) Head(ctx context.Context, branch string) (string, error) {
	if branch == "" {
		branch = "HEAD"
	}

	out, err := b.run(ctx, "rev-list", "-1", branch, "--")
	if err != nil {
		return "", fmt.Errorf("retrieve head commit for %s: %w", branch, err)
	}

	return out, nil
}

// MainBranch implements scm.Backend.
func (b *Backend) MainBranch(ctx context.Context) (string, error) {
	out, err := b.run(ctx, "symbolic-ref", "--short", "HEAD")
	if err == nil && out != "" {
		return out, nil
	}

	branches, err := b.Branches(ctx)
	if err != nil {
		return "", err
	}

	for _, candidate := range []string{"master", "main", "remotes/origin/master", "remotes/origin/main"} {
		if containsString(branches, candidate) {
			return candidate, nil
		}
	}

	return "master", nil
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}

	return false
}

// Branches implements scm.Backend.
func (b *Backend) Branches(ctx context.Context) ([]string, error) {
	out, err := b.run(ctx, "for-each-ref", "--format=%(refname:short)", "refs/heads")
	if err != nil {
		return nil, fmt.Errorf("retrieve list of branches: %w", err)
	}

	return splitNonEmpty(out), nil
}

// Tags implements scm.Backend.
func (b *Backend) Tags(ctx context.Context) ([]revision.Tag, error) {
	out, err := b.run(ctx, "for-each-ref", "--format=%(refname:short) %(objectname)", "refs/tags")
	if err != nil {
		return nil, fmt.Errorf("retrieve list of tags: %w", err)
	}

	var tags []revision.Tag

	for _, line := range splitNonEmpty(out) {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}

		tags = append(tags, revision.Tag{Name: fields[0], ID: fields[1]})
	}

	return tags, nil
}

// Tree implements scm.Backend.
func (b *Backend) Tree(ctx context.Context, id string) ([]string, error) {
	if id == "" {
		id = "HEAD"
	}

	out, err := b.run(ctx, "ls-tree", "-r", "--full-name", "--name-only", id)
	if err != nil {
		return nil, fmt.Errorf("retrieve tree listing for %s: %w", id, err)
	}

	return splitNonEmpty(out), nil
}

// Cat implements scm.Backend.
func (b *Backend) Cat(ctx context.Context, path, id string) ([]byte, error) {
	if id == "" {
		id = "HEAD"
	}

	cmd := exec.CommandContext(ctx, "git", "--git-dir", b.gitDir, "show", id+":"+path)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("get file contents of %s@%s: %w: %s", path, id, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

// LogIterator implements scm.Backend. IDs are delivered as composite
// "parent:child" pairs (except the root, delivered bare) so diffstat
// fetching always knows which tree to diff against.
func (b *Backend) LogIterator(ctx context.Context, branch string, start, end int64) (scm.IDIterator, error) {
	if branch == "" {
		var err error

		branch, err = b.MainBranch(ctx)
		if err != nil {
			return nil, err
		}
	}

	args := []string{"rev-list", "--first-parent", "--reverse"}
	if start > 0 {
		args = append(args, fmt.Sprintf("--since=%d", start))
	}

	if end > 0 {
		args = append(args, fmt.Sprintf("--until=%d", end))
	}

	args = append(args, branch, "--")

	it := logiter.Start(ctx, func(ctx context.Context, emit func(ids []string)) error {
		cmd, stdout, err := b.runPipe(ctx, args...)
		if err != nil {
			return err
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		prev := ""

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			id := line
			if prev != "" {
				id = prev + ":" + line
			}

			emit([]string{id})
			prev = line
		}

		if err := scanner.Err(); err != nil {
			_ = cmd.Wait()

			return fmt.Errorf("scan rev-list output: %w", err)
		}

		return cmd.Wait()
	})

	return it, nil
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

// Metadata implements scm.Backend. It parses the raw commit header rather
// than relying on %B (unwrapped subject+body), since older git versions
// don't support that format specifier.
func (b *Backend) Metadata(ctx context.Context, id string) (revision.Revision, error) {
	childID := id

	if parent, child, ok := strings.Cut(id, ":"); ok {
		childID = child
		_ = parent
	}

	out, err := b.run(ctx, "rev-list", "-1", "--header", childID)
	if err != nil {
		return revision.Revision{}, fmt.Errorf("retrieve metadata for %s: %w", id, err)
	}

	return parseRawHeader(id, out)
}

// BatchMetadata implements scm.BatchMetadataBackend by resolving every id's
// metadata in a single "git log --no-walk --header" call. Composite
// "parent:child" ids are reduced to their child hash for the git
// invocation, same as Metadata. A failure of the git process itself is
// returned as a whole (nil map, non-nil err); the prefetcher falls back to
// retrying each id individually in that case.
func (b *Backend) BatchMetadata(ctx context.Context, ids []string) (map[string]revision.Revision, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	childToID := make(map[string]string, len(ids))
	childIDs := make([]string, len(ids))

	for i, id := range ids {
		childID := id
		if _, child, ok := strings.Cut(id, ":"); ok {
			childID = child
		}

		childIDs[i] = childID
		childToID[childID] = id
	}

	args := append([]string{"log", "--no-walk=unsorted", "--header"}, childIDs...)

	out, err := b.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("batch retrieve metadata for %d commits: %w", len(ids), err)
	}

	return parseBatchHeaders(out, childToID)
}

// parseBatchHeaders splits the NUL-separated output of a batched
// "git log --header" call into individual records, matches each by its
// leading commit hash against childToID, and parses it with
// parseRawHeader. Records for hashes not present in childToID (git may
// return more than asked for certain abbreviations) are ignored.
func parseBatchHeaders(out string, childToID map[string]string) (map[string]revision.Revision, error) {
	result := make(map[string]revision.Revision, len(childToID))

	for _, record := range strings.Split(out, "\x00") {
		if strings.TrimSpace(record) == "" {
			continue
		}

		hash, _, _ := strings.Cut(record, "\n")
		hash = strings.TrimSpace(hash)

		id, ok := childToID[hash]
		if !ok {
			continue
		}

		rev, err := parseRawHeader(id, record)
		if err != nil {
			return nil, fmt.Errorf("parse batched metadata for %s: %w", id, err)
		}

		result[id] = rev
	}

	return result, nil
}

// parseRawHeader decodes a raw "git rev-list --header" record:
//
//	$ID_HASH
//	tree $TREE_HASH
//	parent $PARENT_HASH  (absent for root commits)
//	author $NAME $EMAIL $DATE $OFFSET
//	committer $NAME $EMAIL $DATE $OFFSET
//
//	    $MESSAGE_INDENTED_BY_4_SPACES
func parseRawHeader(id, raw string) (revision.Revision, error) {
	record := strings.Split(raw, "\x00")[0]
	fields := strings.Split(record, "\n")

	line := 0
	for line < len(fields) && !strings.HasPrefix(fields[line], "author ") {
		line++
	}

	if line >= len(fields) {
		return revision.Revision{}, fmt.Errorf("parse commit metadata for %s: no author line", id)
	}

	author := strings.TrimPrefix(fields[line], "author ")
	if pos := strings.LastIndex(author, "<"); pos >= 0 {
		author = author[:pos]
	}

	author = strings.TrimSpace(author)

	line++
	if line >= len(fields) || !strings.HasPrefix(fields[line], "committer ") {
		return revision.Revision{}, fmt.Errorf("parse commit date for %s", id)
	}

	date, err := parseCommitDate(fields[line])
	if err != nil {
		return revision.Revision{}, fmt.Errorf("parse commit date for %s: %w", id, err)
	}

	var msg strings.Builder

	start := line + 1
	if start < len(fields) && fields[start] == "" {
		start++
	}

	for i := start; i < len(fields); i++ {
		l := fields[i]
		if len(l) >= 4 {
			msg.WriteString(l[4:])
		}

		msg.WriteString("\n")
	}

	return revision.New(id, date, author, strings.TrimRight(msg.String(), "\n"), diffstat.New()), nil
}

// parseCommitDate extracts a Unix timestamp adjusted by the committer's UTC
// offset from a "committer NAME EMAIL DATE OFFSET" line.
func parseCommitDate(line string) (int64, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, errors.New("malformed committer line")
	}

	offsetStr := fields[len(fields)-1]
	dateStr := fields[len(fields)-2]

	date, err := strconv.ParseInt(dateStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse date: %w", err)
	}

	if len(offsetStr) == 5 {
		sign := int64(1)
		if offsetStr[0] == '-' {
			sign = -1
		}

		hr, _ := strconv.ParseInt(offsetStr[1:3], 10, 64)
		min, _ := strconv.ParseInt(offsetStr[3:5], 10, 64)
		date += sign * (hr*3600 + min*60)
	}

	return date, nil
}

// Diffstat implements scm.Backend, using composite "parent:child" IDs to
// diff against the correct parent tree (--root for the repository's root
// commit).
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

	args := []string{"diff-tree", "-U0", "--no-renames"}

	if parent, child, ok := strings.Cut(id, ":"); ok {
		args = append(args, parent, child)
	} else {
		args = append(args, "--root", id)
	}

	out, err := b.run(ctx, args...)
	if err != nil {
		return diffstat.Diffstat{}, fmt.Errorf("diff-tree for %s: %w", id, err)
	}

	return diffstat.Parse(strings.NewReader(out))
}

// Prefetch implements scm.Backend, lazily starting a worker pool on first
// use.
func (b *Backend) Prefetch(ids []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.prefetcher == nil {
		b.prefetcher = prefetch.Start(context.Background(), b, b.workers, prefetch.WithMetrics(b.metrics))
	}

	b.prefetcher.Prefetch(ids)
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

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}

	var out []string

	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}

	return out
}
