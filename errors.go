package snapcache

import (
	"fmt"
)

// ErrUnknownFile indicates a file name the directory cannot resolve.
//
// The directory only knows the files registered at construction time;
// snapshot metadata parsing happens upstream.
type ErrUnknownFile struct {
	Name string
}

func (e *ErrUnknownFile) Error() string {
	return fmt.Sprintf("unknown file: %q", e.Name)
}
