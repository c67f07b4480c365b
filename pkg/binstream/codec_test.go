package binstream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brindlecode/scmwalk/pkg/binstream"
)

func TestMemStreamRoundTripsTypedWrites(t *testing.T) {
	t.Parallel()

	raw := binstream.NewMemStream()
	w := binstream.NewWriter(raw)

	require.NoError(t, w.WriteU32(42))
	require.NoError(t, w.WriteU64(1<<40))
	require.NoError(t, w.WriteI64(-7))
	require.NoError(t, w.WriteString("hello/world.go"))
	require.NoError(t, w.WriteBytes([]byte{1, 2, 3, 4}))
	require.NoError(t, w.WriteByte('R'))

	mem, ok := raw.(interface{ Bytes() []byte })
	require.True(t, ok)

	readRaw := binstream.NewMemStreamFromBytes(mem.Bytes())
	r := binstream.NewReader(readRaw)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), u32)

	u64, err := r.ReadU64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), u64)

	i64, err := r.ReadI64()
	require.NoError(t, err)
	assert.Equal(t, int64(-7), i64)

	str, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello/world.go", str)

	bytesVal, err := r.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, bytesVal)

	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('R'), b)
}

func TestMemStreamEmptyStringRoundTrips(t *testing.T) {
	t.Parallel()

	raw := binstream.NewMemStream()
	w := binstream.NewWriter(raw)
	require.NoError(t, w.WriteString(""))

	mem, _ := raw.(interface{ Bytes() []byte })
	r := binstream.NewReader(binstream.NewMemStreamFromBytes(mem.Bytes()))

	str, err := r.ReadString()
	require.NoError(t, err)
	assert.Empty(t, str)
}

func TestMemStreamShortReadReturnsError(t *testing.T) {
	t.Parallel()

	raw := binstream.NewMemStreamFromBytes([]byte{0x00, 0x01})
	r := binstream.NewReader(raw)

	_, err := r.ReadU32()
	require.Error(t, err)
}

func TestGzipStreamRoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := dir + "/index"

	writeStream, err := binstream.CreateGzipWriter(path)
	require.NoError(t, err)

	w := binstream.NewWriter(writeStream)
	require.NoError(t, w.WriteU32(5))
	require.NoError(t, w.WriteString("abc123"))
	require.NoError(t, writeStream.Close())

	readStream, err := binstream.OpenGzipReader(path)
	require.NoError(t, err)
	defer readStream.Close()

	r := binstream.NewReader(readStream)

	version, err := r.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(5), version)

	id, err := r.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
}
