package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxQuerier is the part of *pgxpool.Pool the repository uses.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRepository stores blobs in the experiment_blobs table created by
// the embedded migrations.
type PostgresRepository struct {
	db pgxQuerier
}

// NewPostgresRepository creates a [PostgresRepository] backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// ReadBlob returns the stored bytes for name, or [ErrBlobNotFound] when no
// row exists.
func (r *PostgresRepository) ReadBlob(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRow(ctx, `
		SELECT data
		FROM experiment_blobs
		WHERE name = $1
	`, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read blob %q: %w", name, ErrBlobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %q: %w", name, err)
	}
	return data, nil
}

// WriteBlob inserts or replaces the blob named name.
func (r *PostgresRepository) WriteBlob(ctx context.Context, name string, data []byte) error {
	if err := validateBlobName(name); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	commandTag, err := r.db.Exec(ctx, `
		INSERT INTO experiment_blobs (name, data, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE
		SET data = EXCLUDED.data,
		    updated_at = NOW()
	`, name, data)
	if err != nil {
		return fmt.Errorf("write blob %q: %w", name, err)
	}
	return writeBlobRows(commandTag)
}

func writeBlobRows(commandTag pgconn.CommandTag) error {
	if commandTag.RowsAffected() != 1 {
		return fmt.Errorf("write blob: %d rows affected", commandTag.RowsAffected())
	}
	return nil
}
