package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "r1/pnl-2024.pdf", Key("r1", "pnl", "2024.pdf"))
	// Uploaded filenames are flattened to their base name.
	assert.Equal(t, "r1/pnl-passwd", Key("r1", "pnl", "../../etc/passwd"))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	path, err := s.Put(ctx, "r1", "pnl", "report.txt", []byte("net profit 120000"))
	require.NoError(t, err)
	assert.Equal(t, "r1/pnl-report.txt", path)

	data, err := s.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "net profit 120000", string(data))
}

func TestLocalStoreList(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Put(ctx, "r1", "pnl", "a.txt", []byte("a"))
	require.NoError(t, err)
	_, err = s.Put(ctx, "r1", "balance_sheet", "b.txt", []byte("b"))
	require.NoError(t, err)
	_, err = s.Put(ctx, "r2", "pnl", "c.txt", []byte("c"))
	require.NoError(t, err)

	paths, err := s.List(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1/balance_sheet-b.txt", "r1/pnl-a.txt"}, paths)

	empty, err := s.List(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLocalStoreGetRejectsTraversal(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "../outside")
	require.Error(t, err)
}
