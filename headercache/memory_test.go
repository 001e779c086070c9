package headercache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheNotReadyBeforeFirstPut(t *testing.T) {
	c := NewMemoryCache(0)

	blob := c.Lookup(context.Background(), "f", 0, 10)
	assert.Equal(t, NotReady, blob.State)

	done := false
	c.Put(context.Background(), "f", 0, []byte("0123456789"), func(err error) {
		require.NoError(t, err)
		done = true
	})
	require.True(t, done)

	blob = c.Lookup(context.Background(), "f", 0, 10)
	require.Equal(t, Hit, blob.State)
	assert.Equal(t, []byte("0123456789"), blob.Bytes)
	assert.Equal(t, int64(0), blob.From)
	assert.Equal(t, int64(10), blob.To)
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache(0)
	c.Put(context.Background(), "other", 0, []byte("x"), nil)

	blob := c.Lookup(context.Background(), "f", 0, 1)
	assert.Equal(t, Miss, blob.State)

	// An entry shorter than the requested range is a miss too.
	c.Put(context.Background(), "f", 0, []byte("abc"), nil)
	blob = c.Lookup(context.Background(), "f", 0, 10)
	assert.Equal(t, Miss, blob.State)
}

func TestMemoryCacheEviction(t *testing.T) {
	c := NewMemoryCache(10)
	c.Put(context.Background(), "a", 0, []byte("12345"), nil)
	c.Put(context.Background(), "b", 0, []byte("12345"), nil)

	// Touch "a" so "b" is the eviction candidate.
	require.Equal(t, Hit, c.Lookup(context.Background(), "a", 0, 5).State)

	c.Put(context.Background(), "c", 0, []byte("12345"), nil)

	assert.Equal(t, Hit, c.Lookup(context.Background(), "a", 0, 5).State)
	assert.Equal(t, Miss, c.Lookup(context.Background(), "b", 0, 5).State)
	assert.Equal(t, Hit, c.Lookup(context.Background(), "c", 0, 5).State)
}

func TestCachedBlobCovers(t *testing.T) {
	blob := CachedBlob{State: Hit, Bytes: make([]byte, 100), From: 0, To: 100}
	assert.True(t, blob.Covers(0, 100))
	assert.True(t, blob.Covers(10, 50))
	assert.False(t, blob.Covers(10, 101))
	assert.False(t, CachedBlob{State: Miss}.Covers(0, 0))
	assert.Equal(t, int64(100), blob.Length())
}
