package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreReadBlob(t *testing.T) {
	root := t.TempDir()
	data := []byte("hello world, this is a local snapshot part")
	require.NoError(t, os.WriteFile(filepath.Join(root, "part0"), data, 0o644))

	store := NewLocalStore(root)

	r, err := store.ReadBlob(context.Background(), "part0", 6, 5)
	require.NoError(t, err)
	defer r.Close()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))
}

func TestLocalStoreNotFound(t *testing.T) {
	store := NewLocalStore(t.TempDir())

	_, err := store.ReadBlob(context.Background(), "missing", 0, 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreShortRead(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "p"), []byte("abc"), 0o644))

	store := NewLocalStore(root)

	r, err := store.ReadBlob(context.Background(), "p", 0, 10)
	require.NoError(t, err)
	defer r.Close()

	// The stream ends early; io.ReadFull surfaces ErrUnexpectedEOF.
	buf := make([]byte, 10)
	_, err = io.ReadFull(r, buf)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
