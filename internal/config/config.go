// Package config loads server configuration from environment variables.
//
// Optional variables:
//   - HTTP_ADDR: listen address for the JSON API (default ":8080").
//   - GRPC_ADDR: listen address for the gRPC health service (default ":9090").
//   - ADMIN_ADDR: listen address for the HTML console (empty disables it).
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - STORE_DRIVER: memory, file, postgres, sqlite or s3 (default "file").
//   - STORE_BLOB_NAME: name of the persisted experiment blob
//     (default "experiments").
//   - STORE_FILE_DIR: directory for the file driver (default "data").
//   - DATABASE_URL: PostgreSQL connection string, required for postgres.
//   - SQLITE_PATH: database file for the sqlite driver
//     (default "experimentz.db").
//   - S3_BUCKET: bucket name, required for s3.
//   - S3_REGION, S3_ENDPOINT, S3_PATH_STYLE, S3_PREFIX,
//     S3_ACCESS_KEY_ID, S3_SECRET_ACCESS_KEY: further s3 settings.
//   - DEFAULT_ACTOR: actor recorded when a request has no X-Actor header
//     (default "Current User").
//   - MAX_JSON_BODY_SIZE: max HTTP JSON request body size in bytes
//     (default "1048576", must be > 0 if set).
//   - MUTATION_RATE_LIMIT: mutating requests per minute per client IP
//     (default "120", must be > 0 if set).
//   - SHUTDOWN_TIMEOUT: graceful shutdown budget (default "10s").
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage drivers accepted by STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverS3       = "s3"
)

const (
	defaultHTTPAddr              = ":8080"
	defaultGRPCAddr              = ":9090"
	defaultStoreDriver           = DriverFile
	defaultBlobName              = "experiments"
	defaultFileDir               = "data"
	defaultSQLitePath            = "experimentz.db"
	defaultS3Region              = "us-east-1"
	defaultActor                 = "Current User"
	defaultMaxJSONBodySize int64 = 1 << 20 // 1MB
	defaultMutationRateLimit     = 120
	defaultShutdownTimeout       = 10 * time.Second
)

// S3Config holds settings for the s3 storage driver.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// Config holds the runtime configuration for the experimentz server.
type Config struct {
	HTTPAddr          string
	GRPCAddr          string
	AdminAddr         string
	LogLevel          string
	StoreDriver       string
	BlobName          string
	FileDir           string
	DatabaseURL       string
	SQLitePath        string
	S3                S3Config
	DefaultActor      string
	MaxJSONBodySize   int64
	MutationRateLimit int
	ShutdownTimeout   time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// appropriate. It returns an error if a driver's required variables are
// missing or if optional values fail validation.
func Load() (Config, error) {
	driver := strings.ToLower(envOrDefault("STORE_DRIVER", defaultStoreDriver))
	switch driver {
	case DriverMemory, DriverFile, DriverPostgres, DriverSQLite, DriverS3:
	default:
		return Config{}, fmt.Errorf("STORE_DRIVER %q must be one of memory, file, postgres, sqlite, s3", driver)
	}

	databaseURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if driver == DriverPostgres && databaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
	}

	s3cfg := S3Config{
		Bucket:          strings.TrimSpace(os.Getenv("S3_BUCKET")),
		Region:          envOrDefault("S3_REGION", defaultS3Region),
		Endpoint:        strings.TrimSpace(os.Getenv("S3_ENDPOINT")),
		Prefix:          strings.TrimSpace(os.Getenv("S3_PREFIX")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("S3_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("S3_SECRET_ACCESS_KEY")),
	}
	if driver == DriverS3 && s3cfg.Bucket == "" {
		return Config{}, errors.New("S3_BUCKET is required when STORE_DRIVER=s3")
	}
	if (s3cfg.AccessKeyID == "") != (s3cfg.SecretAccessKey == "") {
		return Config{}, errors.New("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}
	if v := strings.TrimSpace(os.Getenv("S3_PATH_STYLE")); v != "" {
		pathStyle, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse S3_PATH_STYLE: %w", err)
		}
		s3cfg.PathStyle = pathStyle
	}

	logLevel := strings.ToLower(envOrDefault("LOG_LEVEL", "info"))
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("LOG_LEVEL %q must be one of debug, info, warn, error", logLevel)
	}

	maxJSONBodySize := defaultMaxJSONBodySize
	if v := strings.TrimSpace(os.Getenv("MAX_JSON_BODY_SIZE")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, errors.New("MAX_JSON_BODY_SIZE must be a positive integer (bytes)")
		}
		maxJSONBodySize = n
	}

	mutationRateLimit := defaultMutationRateLimit
	if value := strings.TrimSpace(os.Getenv("MUTATION_RATE_LIMIT")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse MUTATION_RATE_LIMIT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("MUTATION_RATE_LIMIT must be > 0")
		}
		mutationRateLimit = parsed
	}

	shutdownTimeout := defaultShutdownTimeout
	if value := strings.TrimSpace(os.Getenv("SHUTDOWN_TIMEOUT")); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse SHUTDOWN_TIMEOUT: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("SHUTDOWN_TIMEOUT must be > 0")
		}
		shutdownTimeout = parsed
	}

	return Config{
		HTTPAddr:          envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:          envOrDefault("GRPC_ADDR", defaultGRPCAddr),
		AdminAddr:         strings.TrimSpace(os.Getenv("ADMIN_ADDR")),
		LogLevel:          logLevel,
		StoreDriver:       driver,
		BlobName:          envOrDefault("STORE_BLOB_NAME", defaultBlobName),
		FileDir:           envOrDefault("STORE_FILE_DIR", defaultFileDir),
		DatabaseURL:       databaseURL,
		SQLitePath:        envOrDefault("SQLITE_PATH", defaultSQLitePath),
		S3:                s3cfg,
		DefaultActor:      envOrDefault("DEFAULT_ACTOR", defaultActor),
		MaxJSONBodySize:   maxJSONBodySize,
		MutationRateLimit: mutationRateLimit,
		ShutdownTimeout:   shutdownTimeout,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
