package model

import (
	"fmt"
	"strconv"
)

// ErrInvalidPosition indicates a position outside [0, FileInfo.Length).
type ErrInvalidPosition struct {
	Position int64
	Length   int64
}

func (e *ErrInvalidPosition) Error() string {
	return fmt.Sprintf("position %d is invalid for a file of length %d", e.Position, e.Length)
}

// FileInfo describes an immutable logical file stored as one or more
// equal-size parts in a blob store. All parts but possibly the last have
// size PartSize, and the part lengths sum to Length.
type FileInfo struct {
	// PhysicalName is the name of the logical file.
	PhysicalName string
	// Length is the total length of the logical file in bytes.
	Length int64
	// PartSize is the size of each part; the last part may be shorter.
	PartSize int64
	// Checksum is an optional base-36 encoded checksum of the file,
	// taken from snapshot metadata. Empty if unknown.
	Checksum string
}

// NewFileInfo creates a FileInfo for a file of the given length split into
// parts of partSize bytes. partSize <= 0 means a single part.
func NewFileInfo(name string, length, partSize int64, checksum string) FileInfo {
	if partSize <= 0 || partSize > length {
		partSize = length
	}
	return FileInfo{
		PhysicalName: name,
		Length:       length,
		PartSize:     partSize,
		Checksum:     checksum,
	}
}

// NumberOfParts returns the number of parts the file is split into.
func (fi FileInfo) NumberOfParts() int64 {
	if fi.PartSize <= 0 || fi.Length == 0 {
		return 1
	}
	n := fi.Length / fi.PartSize
	if fi.Length%fi.PartSize != 0 {
		n++
	}
	return n
}

// PartName returns the blob name of part i.
func (fi FileInfo) PartName(part int64) string {
	if fi.NumberOfParts() == 1 {
		return fi.PhysicalName
	}
	return fi.PhysicalName + ".part" + strconv.FormatInt(part, 10)
}

// PartLength returns the length of part i in bytes.
func (fi FileInfo) PartLength(part int64) int64 {
	if part < fi.NumberOfParts()-1 {
		return fi.PartSize
	}
	return fi.Length - part*fi.PartSize
}

// PartForPosition returns the part that contains the byte at position.
func (fi FileInfo) PartForPosition(position int64) (int64, error) {
	if err := fi.validatePosition(position); err != nil {
		return 0, err
	}
	if fi.NumberOfParts() == 1 {
		return 0, nil
	}
	return position / fi.PartSize, nil
}

// PositionInPart returns the offset of position relative to the start of its part.
func (fi FileInfo) PositionInPart(position int64) (int64, error) {
	if err := fi.validatePosition(position); err != nil {
		return 0, err
	}
	if fi.NumberOfParts() == 1 {
		return position, nil
	}
	return position % fi.PartSize, nil
}

func (fi FileInfo) validatePosition(position int64) error {
	if position < 0 || position >= fi.Length {
		return &ErrInvalidPosition{Position: position, Length: fi.Length}
	}
	return nil
}

func (fi FileInfo) String() string {
	return fmt.Sprintf("FileInfo(%s, length=%d, parts=%d)", fi.PhysicalName, fi.Length, fi.NumberOfParts())
}
