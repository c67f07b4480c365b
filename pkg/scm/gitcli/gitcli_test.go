package gitcli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRawHeaderExtractsAuthorDateAndMessage(t *testing.T) {
	t.Parallel()

	raw := "deadbeef\n" +
		"tree cafebabe\n" +
		"parent 1111111\n" +
		"author Ada Lovelace <ada@example.com> 1700000000 +0200\n" +
		"committer Ada Lovelace <ada@example.com> 1700000000 +0200\n" +
		"\n" +
		"    Fix the analytical engine\n" +
		"    \n" +
		"    Carry propagation was off by one.\n"

	rev, err := parseRawHeader("1111111:deadbeef", raw)
	require.NoError(t, err)

	assert.Equal(t, "Ada Lovelace", rev.Author)
	assert.Equal(t, int64(1700000000+2*3600), rev.Date)
	assert.Equal(t, "Fix the analytical engine\n\nCarry propagation was off by one.", rev.Message)
	assert.Equal(t, "1111111:deadbeef", rev.ID)
}

func TestParseRawHeaderRootCommitHasNoParentLine(t *testing.T) {
	t.Parallel()

	raw := "deadbeef\n" +
		"tree cafebabe\n" +
		"author Root <root@example.com> 1600000000 -0500\n" +
		"committer Root <root@example.com> 1600000000 -0500\n" +
		"\n" +
		"    Initial commit\n"

	rev, err := parseRawHeader("deadbeef", raw)
	require.NoError(t, err)

	assert.Equal(t, "Root", rev.Author)
	assert.Equal(t, int64(1600000000-5*3600), rev.Date)
	assert.Equal(t, "Initial commit", rev.Message)
}

func TestParseRawHeaderMissingAuthorLineErrors(t *testing.T) {
	t.Parallel()

	_, err := parseRawHeader("x", "deadbeef\ntree cafebabe\n")
	assert.Error(t, err)
}

func TestParseCommitDateAppliesPositiveAndNegativeOffsets(t *testing.T) {
	t.Parallel()

	d, err := parseCommitDate("committer A <a@b.com> 1000 +0130")
	require.NoError(t, err)
	assert.Equal(t, int64(1000+90*60), d)

	d, err = parseCommitDate("committer A <a@b.com> 1000 -0130")
	require.NoError(t, err)
	assert.Equal(t, int64(1000-90*60), d)
}

func TestParseBatchHeadersSplitsAndMapsMultipleRecords(t *testing.T) {
	t.Parallel()

	out := "deadbeef\n" +
		"tree cafebabe\n" +
		"author Ada Lovelace <ada@example.com> 1700000000 +0000\n" +
		"committer Ada Lovelace <ada@example.com> 1700000000 +0000\n" +
		"\n" +
		"    first\n" +
		"\x00" +
		"feedface\n" +
		"tree cafebabe\n" +
		"parent deadbeef\n" +
		"author Root <root@example.com> 1700000100 +0000\n" +
		"committer Root <root@example.com> 1700000100 +0000\n" +
		"\n" +
		"    second\n" +
		"\x00"

	childToID := map[string]string{
		"deadbeef": "deadbeef",
		"feedface": "deadbeef:feedface",
	}

	got, err := parseBatchHeaders(out, childToID)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "Ada Lovelace", got["deadbeef"].Author)
	assert.Equal(t, "first", got["deadbeef"].Message)

	second := got["deadbeef:feedface"]
	assert.Equal(t, "Root", second.Author)
	assert.Equal(t, "second", second.Message)
	assert.Equal(t, "deadbeef:feedface", second.ID)
}

func TestParseBatchHeadersIgnoresUnrequestedHashes(t *testing.T) {
	t.Parallel()

	out := "deadbeef\n" +
		"author Ada Lovelace <ada@example.com> 1700000000 +0000\n" +
		"committer Ada Lovelace <ada@example.com> 1700000000 +0000\n" +
		"\n" +
		"    unrequested\n" +
		"\x00"

	got, err := parseBatchHeaders(out, map[string]string{"other": "other"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveGitDirFindsBareRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "objects"), 0o755))

	got, err := resolveGitDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestResolveGitDirFollowsDotGitDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))

	got, err := resolveGitDir(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".git"), got)
}

func TestResolveGitDirFollowsDotGitFileRedirect(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	realGitDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: "+realGitDir+"\n"), 0o644))

	got, err := resolveGitDir(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(realGitDir), got)
}

func TestResolveGitDirRejectsNonRepository(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := resolveGitDir(dir)
	assert.Error(t, err)
}

func TestUUIDCacheRoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, uuidSidecar)

	writeUUIDCache(path, "main", "head1", "root1")

	head, root, ok := readUUIDCache(path, "main")
	require.True(t, ok)
	assert.Equal(t, "head1", head)
	assert.Equal(t, "root1", root)

	writeUUIDCache(path, "dev", "head2", "root2")

	head, root, ok = readUUIDCache(path, "main")
	require.True(t, ok)
	assert.Equal(t, "head1", head)
	assert.Equal(t, "root1", root)

	head, root, ok = readUUIDCache(path, "dev")
	require.True(t, ok)
	assert.Equal(t, "head2", head)
	assert.Equal(t, "root2", root)
}

func TestSplitNonEmptyDropsBlankLines(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, splitNonEmpty("a\n\nb\n"))
	assert.Nil(t, splitNonEmpty(""))
}
