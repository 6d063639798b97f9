package sync

import (
	"flag"
	"path/filepath"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 8083 {
		t.Fatalf("expected default port 8083, got %d", cfg.Port)
	}
	if cfg.DBPath != filepath.Join("data", "sync.db") {
		t.Fatalf("unexpected default db path %q", cfg.DBPath)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("expected push channel disabled by default, got %q", cfg.RedisAddr)
	}
}

func TestParseConfigEnvOverride(t *testing.T) {
	t.Setenv("STORYTREE_SYNC_PORT", "9100")
	t.Setenv("STORYTREE_SYNC_DB_PATH", "/tmp/sync-test.db")
	t.Setenv("STORYTREE_REDIS_ADDR", "localhost:6379")

	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9100 {
		t.Fatalf("expected env port 9100, got %d", cfg.Port)
	}
	if cfg.DBPath != "/tmp/sync-test.db" {
		t.Fatalf("unexpected db path %q", cfg.DBPath)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected redis address %q", cfg.RedisAddr)
	}
}

func TestParseConfigFlagOverridesEnv(t *testing.T) {
	t.Setenv("STORYTREE_SYNC_PORT", "9100")

	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-port", "9200", "-redis", "redis:6379"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Port != 9200 {
		t.Fatalf("expected flag port 9200, got %d", cfg.Port)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("unexpected redis address %q", cfg.RedisAddr)
	}
}
