package config

import (
	"testing"
	"time"
)

var configEnv = []string{
	"HTTP_ADDR", "GRPC_ADDR", "ADMIN_ADDR", "LOG_LEVEL",
	"STORE_DRIVER", "STORE_BLOB_NAME", "STORE_FILE_DIR",
	"DATABASE_URL", "SQLITE_PATH",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PATH_STYLE", "S3_PREFIX",
	"S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
	"DEFAULT_ACTOR", "MAX_JSON_BODY_SIZE", "MUTATION_RATE_LIMIT", "SHUTDOWN_TIMEOUT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want :9090", cfg.GRPCAddr)
	}
	if cfg.AdminAddr != "" {
		t.Errorf("AdminAddr = %q, want empty", cfg.AdminAddr)
	}
	if cfg.StoreDriver != DriverFile {
		t.Errorf("StoreDriver = %q, want file", cfg.StoreDriver)
	}
	if cfg.BlobName != "experiments" {
		t.Errorf("BlobName = %q, want experiments", cfg.BlobName)
	}
	if cfg.FileDir != "data" {
		t.Errorf("FileDir = %q, want data", cfg.FileDir)
	}
	if cfg.SQLitePath != "experimentz.db" {
		t.Errorf("SQLitePath = %q, want experimentz.db", cfg.SQLitePath)
	}
	if cfg.S3.Region != "us-east-1" {
		t.Errorf("S3.Region = %q, want us-east-1", cfg.S3.Region)
	}
	if cfg.DefaultActor != "Current User" {
		t.Errorf("DefaultActor = %q, want Current User", cfg.DefaultActor)
	}
	if cfg.MaxJSONBodySize != 1<<20 {
		t.Errorf("MaxJSONBodySize = %d, want %d", cfg.MaxJSONBodySize, 1<<20)
	}
	if cfg.MutationRateLimit != 120 {
		t.Errorf("MutationRateLimit = %d, want 120", cfg.MutationRateLimit)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", " S3 ")
	t.Setenv("S3_BUCKET", "experiments-bucket")
	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("S3_PATH_STYLE", "true")
	t.Setenv("S3_PREFIX", "prod/")
	t.Setenv("ADMIN_ADDR", "127.0.0.1:8081")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("MUTATION_RATE_LIMIT", "30")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreDriver != DriverS3 || cfg.S3.Bucket != "experiments-bucket" || !cfg.S3.PathStyle || cfg.S3.Prefix != "prod/" {
		t.Fatalf("unexpected s3 config: driver=%q %+v", cfg.StoreDriver, cfg.S3)
	}
	if cfg.AdminAddr != "127.0.0.1:8081" || cfg.LogLevel != "debug" {
		t.Fatalf("AdminAddr = %q LogLevel = %q", cfg.AdminAddr, cfg.LogLevel)
	}
	if cfg.MutationRateLimit != 30 || cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("MutationRateLimit = %d ShutdownTimeout = %v", cfg.MutationRateLimit, cfg.ShutdownTimeout)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown driver", env: map[string]string{"STORE_DRIVER": "mongo"}},
		{name: "postgres without url", env: map[string]string{"STORE_DRIVER": "postgres"}},
		{name: "s3 without bucket", env: map[string]string{"STORE_DRIVER": "s3"}},
		{name: "half s3 credentials", env: map[string]string{"S3_ACCESS_KEY_ID": "AKIA"}},
		{name: "bad path style", env: map[string]string{"S3_PATH_STYLE": "sometimes"}},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "chatty"}},
		{name: "zero body size", env: map[string]string{"MAX_JSON_BODY_SIZE": "0"}},
		{name: "non-numeric body size", env: map[string]string{"MAX_JSON_BODY_SIZE": "big"}},
		{name: "non-numeric rate limit", env: map[string]string{"MUTATION_RATE_LIMIT": "lots"}},
		{name: "zero rate limit", env: map[string]string{"MUTATION_RATE_LIMIT": "0"}},
		{name: "bad shutdown timeout", env: map[string]string{"SHUTDOWN_TIMEOUT": "soon"}},
		{name: "negative shutdown timeout", env: map[string]string{"SHUTDOWN_TIMEOUT": "-1s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load() error = nil, want error")
			}
		})
	}
}

func TestLoad_PostgresWithURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/test" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}
