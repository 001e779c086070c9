package snapcache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/snapcache/blobstore"
	"github.com/hupe1980/snapcache/model"
	"github.com/hupe1980/snapcache/sharedcache"
)

func testData(length int64) []byte {
	data := make([]byte, length)
	for i := range data {
		data[i] = byte((i*3 + 7) % 253)
	}
	return data
}

func newTestDirectory(t *testing.T, files []model.FileInfo, data map[string][]byte, opts ...Option) *Directory {
	t.Helper()

	store := blobstore.NewMemoryStore()
	for _, fi := range files {
		blob := data[fi.PhysicalName]
		for p := int64(0); p < fi.NumberOfParts(); p++ {
			from := p * fi.PartSize
			store.Put(fi.PartName(p), blob[from:from+fi.PartLength(p)])
		}
	}

	shared, err := sharedcache.Open(sharedcache.Config{Path: filepath.Join(t.TempDir(), "shared.cache")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shared.Close() })

	dir, err := NewDirectory(store, shared, files, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dir.Close() })
	return dir
}

func TestOpenInputUnknownFile(t *testing.T) {
	dir := newTestDirectory(t, nil, nil)

	_, err := dir.OpenInput("missing.cfs")
	var unknownErr *ErrUnknownFile
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "missing.cfs", unknownErr.Name)
}

func TestDirectoryReadRoundTrip(t *testing.T) {
	data := testData(1 << 20)
	fi := model.NewFileInfo("segment.cfs", 1<<20, 512<<10, "")
	dir := newTestDirectory(t, []model.FileInfo{fi}, map[string][]byte{"segment.cfs": data},
		WithRangeSize(32<<10),
	)
	dir.FinalizeRecovery()

	in, err := dir.OpenInput("segment.cfs")
	require.NoError(t, err)
	defer in.Close()

	buf := make([]byte, 1000)
	require.NoError(t, in.Seek(600_000))
	require.NoError(t, in.Read(context.Background(), buf))
	assert.Equal(t, data[600_000:601_000], buf)

	assert.Equal(t, int64(1), dir.Stats().OpenCount.Load())
	assert.Equal(t, int64(32<<10), dir.Stats().BlobStoreBytesRequested.Load())
}

func TestDirectoryRecoveryRangeSize(t *testing.T) {
	data := testData(1 << 20)
	fi := model.NewFileInfo("segment.cfs", 1<<20, 512<<10, "")
	dir := newTestDirectory(t, []model.FileInfo{fi}, map[string][]byte{"segment.cfs": data},
		WithRangeSize(32<<10),
		WithRecoveryRangeSize(8<<10),
	)

	in, err := dir.OpenInput("segment.cfs")
	require.NoError(t, err)
	defer in.Close()

	// Recovery has not finalized, so the smaller range size applies.
	buf := make([]byte, 100)
	require.NoError(t, in.Seek(600_000))
	require.NoError(t, in.Read(context.Background(), buf))
	assert.Equal(t, data[600_000:600_100], buf)
	assert.Equal(t, int64(8<<10), dir.Stats().BlobStoreBytesRequested.Load())
}

func TestDirectoryEvictAndRecover(t *testing.T) {
	data := testData(1 << 20)
	fi := model.NewFileInfo("segment.cfs", 1<<20, 512<<10, "")
	dir := newTestDirectory(t, []model.FileInfo{fi}, map[string][]byte{"segment.cfs": data},
		WithRangeSize(32<<10),
	)
	dir.FinalizeRecovery()

	in, err := dir.OpenInput("segment.cfs")
	require.NoError(t, err)
	defer in.Close()

	buf := make([]byte, 1000)
	require.NoError(t, in.Seek(600_000))
	require.NoError(t, in.Read(context.Background(), buf))
	require.Equal(t, data[600_000:601_000], buf)

	dir.Evict("segment.cfs")
	// Evicting a file without a region is a no-op.
	dir.Evict("unknown.cfs")

	// The next read acquires a fresh region and populates it again.
	buf2 := make([]byte, 1000)
	require.NoError(t, in.Seek(600_000))
	require.NoError(t, in.Read(context.Background(), buf2))
	assert.Equal(t, data[600_000:601_000], buf2)
	assert.Equal(t, int64(64<<10), dir.Stats().BlobStoreBytesRequested.Load())
}

func TestDirectoryPrewarm(t *testing.T) {
	data := testData(1 << 20)
	fi := model.NewFileInfo("segment.cfs", 1<<20, 512<<10, "")
	dir := newTestDirectory(t, []model.FileInfo{fi}, map[string][]byte{"segment.cfs": data})
	dir.FinalizeRecovery()

	require.NoError(t, dir.Prewarm(context.Background()))
	assert.Equal(t, int64(1<<20), dir.Stats().BlobStoreBytesRequested.Load())

	// Reads after warming never touch the blob store.
	in, err := dir.OpenInput("segment.cfs")
	require.NoError(t, err)
	defer in.Close()

	buf := make([]byte, 10_000)
	require.NoError(t, in.Seek(520_000))
	require.NoError(t, in.Read(context.Background(), buf))
	assert.Equal(t, data[520_000:530_000], buf)
	assert.Equal(t, int64(1<<20), dir.Stats().BlobStoreBytesRequested.Load())
}

func TestDirectorySharesStatsAcrossInputs(t *testing.T) {
	data := testData(64 << 10)
	fi := model.NewFileInfo("a.cfs", 64<<10, 0, "")
	dir := newTestDirectory(t, []model.FileInfo{fi}, map[string][]byte{"a.cfs": data})
	dir.FinalizeRecovery()

	in1, err := dir.OpenInput("a.cfs")
	require.NoError(t, err)
	defer in1.Close()
	in2, err := dir.OpenInput("a.cfs")
	require.NoError(t, err)
	defer in2.Close()

	assert.Equal(t, int64(2), dir.Stats().OpenCount.Load())
}
