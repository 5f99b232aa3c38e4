// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/vibecode/vibecode/internal/storage"
	s3backend "github.com/vibecode/vibecode/internal/storage/s3"
)

// Config holds the server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Database: postgres://..., sqlite://path or a bare file path
	DatabaseURL string

	// Store the clipboard as a sentinel file node instead of its own table
	LegacyClipboardNode bool

	// Auth (optional; empty disables token checks)
	JWTSecret string

	// Archive retention ("local" or "s3", default: "local")
	StorageBackend   string
	LocalStoragePath string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Request bodies larger than this are rejected with 413
	MaxBodySize int64
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:         envOr("METRICS_ADDR", ":9090"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		LogFormat:           envOr("LOG_FORMAT", "json"),
		DatabaseURL:         envOr("DATABASE_URL", "sqlite://./data/vibecode.db"),
		LegacyClipboardNode: envBool("LEGACY_CLIPBOARD_NODE", false),
		JWTSecret:           envOr("JWT_SECRET", ""),
		StorageBackend:      envOr("STORAGE_BACKEND", "local"),
		LocalStoragePath:    envOr("LOCAL_STORAGE_PATH", "./data/archives"),
		S3Endpoint:          envOr("S3_ENDPOINT", "http://localhost:9000"),
		S3Bucket:            envOr("S3_BUCKET", "vibecode"),
		S3AccessKey:         envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:         envOr("S3_SECRET_KEY", ""),
		S3Region:            envOr("S3_REGION", "us-east-1"),
		S3UseSSL:            envBool("S3_USE_SSL", false),
		MaxBodySize:         envInt64("MAX_BODY_SIZE", 50*1024*1024), // 50MB default
	}

	if cfg.StorageBackend != "local" && cfg.StorageBackend != "s3" {
		return nil, fmt.Errorf("STORAGE_BACKEND must be local or s3, got %q", cfg.StorageBackend)
	}
	if cfg.MaxBodySize <= 0 {
		return nil, fmt.Errorf("MAX_BODY_SIZE must be positive")
	}
	return cfg, nil
}

// Storage returns the blob backend settings.
func (c *Config) Storage() storage.Config {
	return storage.Config{
		Backend:   c.StorageBackend,
		LocalPath: c.LocalStoragePath,
		S3: s3backend.Config{
			Endpoint:  c.S3Endpoint,
			Bucket:    c.S3Bucket,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Region:    c.S3Region,
			UseSSL:    c.S3UseSSL,
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
