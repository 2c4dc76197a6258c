package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileRepository stores each blob as <dir>/<name>.json. Writes go to a
// temporary file that is renamed over the target.
type FileRepository struct {
	dir string
}

func NewFileRepository(dir string) (*FileRepository, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileRepository{dir: dir}, nil
}

func (r *FileRepository) path(name string) string {
	return filepath.Join(r.dir, name+".json")
}

func (r *FileRepository) ReadBlob(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateBlobName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read blob %q: %w", name, ErrBlobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", name, err)
	}
	return data, nil
}

func (r *FileRepository) WriteBlob(ctx context.Context, name string, data []byte) (retErr error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBlobName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(r.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write blob %q: %w", name, err)
	}
	defer func() {
		if retErr != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write blob %q: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync blob %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close blob %q: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), r.path(name)); err != nil {
		return fmt.Errorf("rename blob %q: %w", name, err)
	}
	return nil
}
