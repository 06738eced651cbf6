package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PRIMARY", "CACHEPATH", "MAX_NOT_FOUND", "MAX_SIZE", "CACHE_TIME",
		"REDIRECT", "APIKEY", "KEEP_FOREVER_REGEX", "NO_CACHE_REGEX", "NOTFOUND_HTML",
		"INDEX_HTML", "INDEX_HTML_REGEX",
	}
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		k, old, had := k, old, had
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("PRIMARY", "s3://bucket/prefix")
	os.Setenv("MAX_SIZE", "2g")
	os.Setenv("CACHE_TIME", "2h")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Primary != "s3://bucket/prefix" {
		t.Errorf("Primary = %q", cfg.Primary)
	}
	if cfg.MaxSize != 2<<30 {
		t.Errorf("MaxSize = %d, want %d", cfg.MaxSize, 2<<30)
	}
	if cfg.CachePath == "" {
		t.Error("CachePath default is empty")
	}
}

func TestLoadRequiresPrimary(t *testing.T) {
	clearEnv(t)
	if _, err := Load(""); err == nil {
		t.Fatal("Load with no PRIMARY set should fail")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "swdist.toml")
	content := "primary = \"gs://bucket/prefix\"\nmax_size = \"5g\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Primary != "gs://bucket/prefix" {
		t.Errorf("Primary = %q", cfg.Primary)
	}
	if cfg.MaxSize != 5<<30 {
		t.Errorf("MaxSize = %d, want %d", cfg.MaxSize, 5<<30)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "swdist.toml")
	content := "primary = \"gs://bucket/prefix\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	os.Setenv("PRIMARY", "s3://other/prefix")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Primary != "s3://other/prefix" {
		t.Errorf("Primary = %q, want env value to win", cfg.Primary)
	}
}
