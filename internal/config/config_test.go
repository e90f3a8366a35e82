package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"tempora/internal/config"
)

func TestFromYAML(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
admin:
  account: admin-1
trigger:
  strict: true
auth:
  jwt_secret: s3cret
webhooks:
  - url: http://localhost:9999/hook
    types: [payment.native, payment.token]
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Admin.Account != "admin-1" {
		t.Fatalf("admin.account = %q", cfg.Admin.Account)
	}
	if !cfg.Trigger.Strict {
		t.Fatalf("trigger.strict not set")
	}
	if len(cfg.Webhooks) != 1 || len(cfg.Webhooks[0].Types) != 2 {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
}

func TestValidateRequiresAdmin(t *testing.T) {
	if _, err := config.FromYAML([]byte("trigger:\n  strict: true\n")); err == nil {
		t.Fatalf("expected missing admin.account error")
	}
	if _, err := config.FromYAML([]byte("admin:\n  account: a\nwebhooks:\n  - types: [x]\n")); err == nil {
		t.Fatalf("expected webhook url error")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault("admin-1")))
	if err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Admin.Account != "admin-1" || cfg.Trigger.Strict {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if !cfg.Auth.AllowInsecureHeader {
		t.Fatalf("default should allow the local header")
	}
}

func TestLoadReportsMissingFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := config.Load(dir); err == nil {
		t.Fatalf("expected missing-config error")
	}
	if err := os.WriteFile(filepath.Join(dir, "tempora.yml"), []byte(config.GenerateDefault("a")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(dir)
	if err != nil || cfg.Admin.Account != "a" {
		t.Fatalf("load: %v %+v", err, cfg)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil,nil for missing file, got %v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tempora.yml"), []byte(config.GenerateDefault("a")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("load: %v", err)
	}
}
