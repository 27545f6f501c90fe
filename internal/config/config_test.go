package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chainpact.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("unexpected storage driver: %s", cfg.Storage.Driver)
	}
	if cfg.EventBus.Driver != "log" {
		t.Fatalf("unexpected event bus driver: %s", cfg.EventBus.Driver)
	}
	if cfg.Security.AcceptanceRule != "any" {
		t.Fatalf("unexpected acceptance rule: %s", cfg.Security.AcceptanceRule)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	path := writeConfig(t, `{
  "security": {"policy_path": "policy.yaml"},
  "logging": {"audit": {"enabled": true, "path": "logs/audit.log"}}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	baseDir := filepath.Dir(path)
	if cfg.Security.PolicyPath != filepath.Join(baseDir, "policy.yaml") {
		t.Fatalf("policy path not resolved: %s", cfg.Security.PolicyPath)
	}
	if cfg.Logging.Audit.Path != filepath.Join(baseDir, "logs/audit.log") {
		t.Fatalf("audit path not resolved: %s", cfg.Logging.Audit.Path)
	}
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `{
  "server": {"address": ":9000"},
  "storage": {"driver": "mysql", "dsn": "user:pass@tcp(127.0.0.1:3306)/chainpact"},
  "event_bus": {
    "driver": "redis",
    "redis": {"address": "127.0.0.1:6379", "stream": "chainpact:events", "max_len": 1024}
  },
  "security": {"acceptance_rule": "all"}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "mysql" {
		t.Fatalf("unexpected driver: %s", cfg.Storage.Driver)
	}
	if cfg.EventBus.Redis.Stream != "chainpact:events" || cfg.EventBus.Redis.MaxLen != 1024 {
		t.Fatalf("redis config not parsed: %+v", cfg.EventBus.Redis)
	}
	if cfg.Security.AcceptanceRule != "all" {
		t.Fatalf("unexpected rule: %s", cfg.Security.AcceptanceRule)
	}
}

func TestLoadRejectsMissingOrBrokenFiles(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "{not json")); err == nil {
		t.Fatal("expected error for malformed json")
	}
}
