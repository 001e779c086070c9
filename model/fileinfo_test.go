package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileInfoSinglePart(t *testing.T) {
	fi := NewFileInfo("segment.cfs", 1000, 0, "")

	assert.Equal(t, int64(1), fi.NumberOfParts())
	assert.Equal(t, "segment.cfs", fi.PartName(0))
	assert.Equal(t, int64(1000), fi.PartLength(0))

	part, err := fi.PartForPosition(999)
	require.NoError(t, err)
	assert.Equal(t, int64(0), part)

	pos, err := fi.PositionInPart(999)
	require.NoError(t, err)
	assert.Equal(t, int64(999), pos)
}

func TestFileInfoMultiPart(t *testing.T) {
	fi := NewFileInfo("segment.cfs", 1_048_576, 524_288, "")

	assert.Equal(t, int64(2), fi.NumberOfParts())
	assert.Equal(t, "segment.cfs.part0", fi.PartName(0))
	assert.Equal(t, "segment.cfs.part1", fi.PartName(1))
	assert.Equal(t, int64(524_288), fi.PartLength(0))
	assert.Equal(t, int64(524_288), fi.PartLength(1))

	part, err := fi.PartForPosition(524_287)
	require.NoError(t, err)
	assert.Equal(t, int64(0), part)

	part, err = fi.PartForPosition(524_288)
	require.NoError(t, err)
	assert.Equal(t, int64(1), part)

	pos, err := fi.PositionInPart(524_288)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
}

func TestFileInfoShortLastPart(t *testing.T) {
	fi := NewFileInfo("f", 1000, 300, "")

	require.Equal(t, int64(4), fi.NumberOfParts())
	assert.Equal(t, int64(300), fi.PartLength(0))
	assert.Equal(t, int64(100), fi.PartLength(3))

	// The part lengths sum to the file length.
	var total int64
	for p := int64(0); p < fi.NumberOfParts(); p++ {
		total += fi.PartLength(p)
	}
	assert.Equal(t, fi.Length, total)
}

func TestFileInfoInvalidPosition(t *testing.T) {
	fi := NewFileInfo("f", 1000, 300, "")

	_, err := fi.PartForPosition(-1)
	var ipErr *ErrInvalidPosition
	require.ErrorAs(t, err, &ipErr)
	assert.Equal(t, int64(-1), ipErr.Position)

	_, err = fi.PartForPosition(1000)
	require.ErrorAs(t, err, &ipErr)

	_, err = fi.PositionInPart(1000)
	require.ErrorAs(t, err, &ipErr)
}
