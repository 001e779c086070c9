package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
)

// LocalStore implements BlobStore using the local file system.
type LocalStore struct {
	root string
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// ReadBlob opens a stream over [offset, offset+length) of the named file.
func (s *LocalStore) ReadBlob(_ context.Context, name string, offset, length int64) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sectionFile{f: f, r: io.NewSectionReader(f, offset, length)}, nil
}

type sectionFile struct {
	f *os.File
	r *io.SectionReader
}

func (s *sectionFile) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *sectionFile) Close() error {
	return s.f.Close()
}
