package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadResolvesRelativeSqlitePath(t *testing.T) {
	path := writeTempConfig(t, `{
		"basic_config": {"server_address": ":9999"},
		"databases": {"sqlite3": {"dsn": "data/app.db"}}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9999" {
		t.Fatalf("server address not loaded: %q", cfg.BasicConfig.ServerAddress)
	}
	want := filepath.Join(filepath.Dir(path), "data", "app.db")
	if got := cfg.Databases["sqlite3"].DSN; got != want {
		t.Fatalf("dsn not resolved: %q, want %q", got, want)
	}
}

func TestLoadLeavesSpecialDSNsAlone(t *testing.T) {
	for _, dsn := range []string{":memory:", "file:test.db?cache=shared"} {
		path := writeTempConfig(t, `{"databases": {"sqlite3": {"dsn": "`+dsn+`"}}}`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got := cfg.Databases["sqlite3"].DSN; got != dsn {
			t.Fatalf("dsn %q rewritten to %q", dsn, got)
		}
	}
}

func TestLoadRequiresDatabases(t *testing.T) {
	path := writeTempConfig(t, `{"basic_config": {}}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error when no database configured")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
