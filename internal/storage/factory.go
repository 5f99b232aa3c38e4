package storage

import (
	"context"
	"fmt"

	"github.com/vibecode/vibecode/internal/storage/local"
	s3backend "github.com/vibecode/vibecode/internal/storage/s3"
)

// Config selects and configures a backend.
type Config struct {
	Backend   string // "local" or "s3"
	LocalPath string
	S3        s3backend.Config
}

// NewBackend creates the configured Backend.
func NewBackend(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "local":
		return local.New(local.Config{RootPath: cfg.LocalPath, CreateDirs: true})
	case "s3":
		return s3backend.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
