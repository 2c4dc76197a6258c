package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/matt-riley/experimentz/internal/config"
	"github.com/matt-riley/experimentz/internal/metrics"
	"github.com/matt-riley/experimentz/internal/repository"
)

// openBlobStore builds the backend selected by STORE_DRIVER. The returned
// close function releases connections and is never nil.
func openBlobStore(ctx context.Context, cfg config.Config, reg prometheus.Registerer, log *slog.Logger) (repository.BlobStore, func(), error) {
	noop := func() {}

	switch cfg.StoreDriver {
	case config.DriverMemory:
		return repository.NewMemoryRepository(), noop, nil

	case config.DriverFile:
		repo, err := repository.NewFileRepository(cfg.FileDir)
		if err != nil {
			return nil, noop, fmt.Errorf("open file store: %w", err)
		}
		return repo, noop, nil

	case config.DriverSQLite:
		repo, err := repository.NewSQLiteRepository(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("open sqlite store: %w", err)
		}
		return repo, func() {
			if err := repo.Close(); err != nil {
				log.Error("close sqlite store", "error", err)
			}
		}, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("connect postgres: %w", err)
		}
		if err := runMigrations(ctx, pool, log); err != nil {
			pool.Close()
			return nil, noop, err
		}
		if reg != nil {
			metrics.RegisterPoolMetrics(reg, pool)
		}
		return repository.NewPostgresRepository(pool), pool.Close, nil

	case config.DriverS3:
		repo, err := repository.NewS3Repository(ctx, repository.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("open s3 store: %w", err)
		}
		return repo, noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
