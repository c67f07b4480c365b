package revision_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlecode/scmwalk/pkg/binstream"
	"github.com/brindlecode/scmwalk/pkg/diffstat"
	"github.com/brindlecode/scmwalk/pkg/revision"
)

func TestRevisionCodecRoundTrips(t *testing.T) {
	t.Parallel()

	stat, err := diffstat.Parse(strings.NewReader("diff --git a/x.go b/x.go\n+hi\n"))
	require.NoError(t, err)

	rev := revision.New("A:B", 1700000000, "Ada Lovelace", "Fix the thing", stat)

	raw := binstream.NewMemStream()
	require.NoError(t, rev.WriteTo(binstream.NewWriter(raw)))

	mem, ok := raw.(interface{ Bytes() []byte })
	require.True(t, ok)

	decoded, err := revision.ReadFrom("A:B", binstream.NewReader(binstream.NewMemStreamFromBytes(mem.Bytes())))
	require.NoError(t, err)

	assert.Equal(t, rev.ID, decoded.ID)
	assert.Equal(t, rev.Date, decoded.Date)
	assert.Equal(t, rev.Author, decoded.Author)
	assert.Equal(t, rev.Message, decoded.Message)
	assert.Equal(t, rev.Diffstat.Files(), decoded.Diffstat.Files())
}

func TestRevisionCodecZeroLengthMessageAndEmptyDiffstat(t *testing.T) {
	t.Parallel()

	rev := revision.New("1", 0, "", "", diffstat.New())

	raw := binstream.NewMemStream()
	require.NoError(t, rev.WriteTo(binstream.NewWriter(raw)))

	mem, _ := raw.(interface{ Bytes() []byte })
	decoded, err := revision.ReadFrom("1", binstream.NewReader(binstream.NewMemStreamFromBytes(mem.Bytes())))
	require.NoError(t, err)

	assert.Empty(t, decoded.Author)
	assert.Empty(t, decoded.Message)
	assert.Empty(t, decoded.Diffstat.Files())
}

func TestReadFromRejectsBadHeadMarker(t *testing.T) {
	t.Parallel()

	raw := binstream.NewMemStreamFromBytes([]byte{'X', 1})
	_, err := revision.ReadFrom("1", binstream.NewReader(raw))
	require.ErrorIs(t, err, revision.ErrBadMarker)
}

func TestReadFromRejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	raw := binstream.NewMemStreamFromBytes([]byte{'R', 9})
	_, err := revision.ReadFrom("1", binstream.NewReader(raw))
	require.ErrorIs(t, err, revision.ErrUnknownVersion)
}

func TestParentIDAndChildID(t *testing.T) {
	t.Parallel()

	composite := revision.New("A:B", 0, "", "", diffstat.New())
	parent, ok := composite.ParentID()
	assert.True(t, ok)
	assert.Equal(t, "A", parent)
	assert.Equal(t, "B", composite.ChildID())

	bare := revision.New("C", 0, "", "", diffstat.New())
	_, ok = bare.ParentID()
	assert.False(t, ok)
	assert.Equal(t, "C", bare.ChildID())
}
