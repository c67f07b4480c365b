package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSniffBackendFromURLShape(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"svn://example.com/repo":          "svn",
		"svn+ssh://example.com/repo":      "svn",
		"https://example.com/repo.git":    "git",
		"git://example.com/repo":          "git",
		"git@example.com:org/repo.git":    "git",
		"https://example.com/not-a-clue":  "git",
	}

	for location, want := range cases {
		assert.Equal(t, want, sniffBackend(location), location)
	}
}

func TestSniffBackendFromLocalDirectoryMarkers(t *testing.T) {
	t.Parallel()

	gitDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(gitDir, ".git"), 0o755))
	assert.Equal(t, "git", sniffBackend(gitDir))

	svnDir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(svnDir, ".svn"), 0o755))
	assert.Equal(t, "svn", sniffBackend(svnDir))

	bareDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bareDir, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))
	assert.Equal(t, "git", sniffBackend(bareDir))

	empty := t.TempDir()
	assert.Equal(t, "git", sniffBackend(empty), "an unrecognized local path falls back to git")
}

func TestParseWalkTimeAcceptsRFC3339AndEmptyString(t *testing.T) {
	t.Parallel()

	unix, err := parseWalkTime("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), unix)

	unix, err = parseWalkTime("2024-01-02T15:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1704207845), unix)

	_, err = parseWalkTime("not-a-time")
	assert.Error(t, err)
}

func TestShortIDTruncatesLongIdentifiersOnly(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abcdef012345", shortID("abcdef0123456789"))
	assert.Equal(t, "42", shortID("42"))
}
