package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.CDPURL() != "http://127.0.0.1:9222" {
		t.Fatalf("CDPURL() = %q; want http://127.0.0.1:9222", cfg.CDPURL())
	}
	if cfg.EvalTimeout() != 5*time.Second {
		t.Fatalf("EvalTimeout() = %v; want 5s", cfg.EvalTimeout())
	}
	if got := cfg.OriginFor("127.0.0.1:8190"); got != "http://127.0.0.1:8190/ext" {
		t.Fatalf("OriginFor() = %q", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OVERLAY_CDP_PORT", "9333")
	t.Setenv("OVERLAY_EVAL_TIMEOUT_MS", "10")
	t.Setenv("OVERLAY_ORIGIN", "https://agent.example/ext/")
	t.Setenv("OVERLAY_FILE_ACCESS", "true")
	t.Setenv("OVERLAY_BADGE_RPS", "0.5")
	t.Setenv("OVERLAY_LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.CDPPort != 9333 {
		t.Fatalf("CDPPort = %d; want 9333", cfg.CDPPort)
	}
	if cfg.EvalTimeoutMS != 1000 {
		t.Fatalf("EvalTimeoutMS = %d; want clamped to 1000", cfg.EvalTimeoutMS)
	}
	if got := cfg.OriginFor("ignored:1"); got != "https://agent.example/ext" {
		t.Fatalf("OriginFor() = %q; want configured origin", got)
	}
	if !cfg.FileAccess || cfg.BadgeRPS != 0.5 || cfg.LogLevel != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("OVERLAY_CDP_PORT", "70000")
	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error; want invalid port")
	}
}

func TestLoadSiteRulesDefaults(t *testing.T) {
	rules, err := LoadSiteRules("")
	if err != nil {
		t.Fatalf("LoadSiteRules() = %v", err)
	}
	if rules.ReaderFrame.Host != "jigsaw.vitalsource.com" || len(rules.BlockedHosts) != 2 {
		t.Fatalf("rules = %+v", rules)
	}
}

func TestLoadSiteRulesMergesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	data := []byte("blocked_hosts:\n  - \"*.school.example\"\nbadge_blocklist: []\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadSiteRules(path)
	if err != nil {
		t.Fatalf("LoadSiteRules() = %v", err)
	}
	if len(rules.BlockedHosts) != 1 || rules.BlockedHosts[0] != "*.school.example" {
		t.Fatalf("BlockedHosts = %v", rules.BlockedHosts)
	}
	if len(rules.BadgeBlocklist) != 0 {
		t.Fatalf("BadgeBlocklist = %v; want empty list from file", rules.BadgeBlocklist)
	}
	if len(rules.ReaderHosts) != 1 || rules.ReaderHosts[0] != "bookshelf.vitalsource.com" {
		t.Fatalf("ReaderHosts = %v; want default", rules.ReaderHosts)
	}
}

func TestLoadSiteRulesErrors(t *testing.T) {
	if _, err := LoadSiteRules(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadSiteRules(missing) = nil error")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("reader_hosts: [\"\"]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSiteRules(path); err == nil {
		t.Fatal("LoadSiteRules(empty host) = nil error")
	}
}
