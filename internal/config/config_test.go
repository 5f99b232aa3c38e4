package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.DatabaseURL != "sqlite://./data/vibecode.db" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.LegacyClipboardNode {
		t.Error("legacy clipboard layout should be off by default")
	}
	if cfg.Storage().Backend != "local" {
		t.Errorf("storage backend = %q", cfg.Storage().Backend)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db/vibecode?sslmode=disable")
	t.Setenv("LEGACY_CLIPBOARD_NODE", "true")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "archives")
	t.Setenv("MAX_BODY_SIZE", "1024")
	t.Setenv("S3_USE_SSL", "not-a-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.LegacyClipboardNode || cfg.MaxBodySize != 1024 {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.S3UseSSL {
		t.Error("invalid bool should fall back to the default")
	}
	if s := cfg.Storage(); s.Backend != "s3" || s.S3.Bucket != "archives" {
		t.Errorf("storage config = %+v", s)
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "smb")
	if _, err := Load(); err == nil {
		t.Error("unknown storage backend should fail")
	}
}
