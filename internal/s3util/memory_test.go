package s3util

import (
	"bytes"
	"context"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/s3-adder/internal/jobutil"
)

func TestMemoryGateway(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryGateway()
	m.Put("in", []byte("1 2"))

	obj, err := m.Fetch(ctx, "in")
	require.NoError(t, err)
	assert.Equal(t, "1 2", string(obj.Data))
	assert.Equal(t, 1, obj.Attempts)

	_, err = m.Fetch(ctx, "missing")
	assert.Equal(t, jobutil.KindNotFound, jobutil.KindOf(err))

	require.NoError(t, m.Store(ctx, "out", []byte("3")))
	out, ok := m.Object("out")
	require.True(t, ok)
	assert.Equal(t, "3", string(out))

	fetches, stores := m.Calls()
	assert.Equal(t, 2, fetches)
	assert.Equal(t, 1, stores)
}

func TestMemoryGateway_FailNext(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryGateway()
	m.Put("in", []byte("1"))
	m.FailNext("in", &jobutil.Error{Kind: jobutil.KindAuth})

	_, err := m.Fetch(ctx, "in")
	assert.Equal(t, jobutil.KindAuth, jobutil.KindOf(err))

	_, err = m.Fetch(ctx, "in")
	assert.NoError(t, err)
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte("7 8"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Detected from the magic number when Content-Encoding is missing.
	out, err := Decode("", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "7 8", string(out))

	out, err = Decode("GZIP", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "7 8", string(out))

	plain := []byte("1\n2\n")
	out, err = Decode("identity", plain)
	require.NoError(t, err)
	assert.Equal(t, plain, out)

	_, err = Decode("zstd", plain)
	assert.Error(t, err)
}
