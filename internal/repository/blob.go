// Package repository holds the blob backends the experiment store persists
// through. Each backend stores whole named blobs and knows nothing about
// their contents.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrBlobNotFound is returned by ReadBlob when no blob with that name exists.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore reads and overwrites named blobs.
type BlobStore interface {
	ReadBlob(ctx context.Context, name string) ([]byte, error)
	WriteBlob(ctx context.Context, name string, data []byte) error
}

func validateBlobName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("blob name is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("blob name %q must not contain path separators", name)
	}
	return nil
}
