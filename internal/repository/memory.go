package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// MemoryRepository keeps blobs in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{blobs: make(map[string][]byte)}
}

func (r *MemoryRepository) ReadBlob(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, ok := r.blobs[name]
	if !ok {
		return nil, fmt.Errorf("read blob %q: %w", name, ErrBlobNotFound)
	}
	return slices.Clone(data), nil
}

func (r *MemoryRepository) WriteBlob(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBlobName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.blobs[name] = slices.Clone(data)
	return nil
}
