package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/coc/internal/config"
)

func TestLoad_DefaultsAppliedWhenConfigMissing(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatalf("expected NeedsGenesis=true when config.yaml missing")
	}
	if cfg.Model != "claude-sonnet-4" {
		t.Fatalf("expected default model, got %q", cfg.Model)
	}
	if cfg.Parallel != 4 {
		t.Fatalf("expected default parallel=4, got %d", cfg.Parallel)
	}
	if cfg.Output != config.OutputTable {
		t.Fatalf("expected default output=table, got %q", cfg.Output)
	}
	if cfg.Serve.Port != 4000 {
		t.Fatalf("expected default serve.port=4000, got %d", cfg.Serve.Port)
	}
	if cfg.Serve.Host != "localhost" {
		t.Fatalf("expected default serve.host=localhost, got %q", cfg.Serve.Host)
	}
	if cfg.Serve.Theme != config.ThemeAuto {
		t.Fatalf("expected default serve.theme=auto, got %q", cfg.Serve.Theme)
	}
}

func TestLoad_FromCocHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".coc")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	yamlContent := "model: gpt-4o\nparallel: 8\noutput: json\n"
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Model != "gpt-4o" {
		t.Fatalf("expected model=gpt-4o, got %q", cfg.Model)
	}
	if cfg.Parallel != 8 {
		t.Fatalf("expected parallel=8, got %d", cfg.Parallel)
	}
	if cfg.Output != config.OutputJSON {
		t.Fatalf("expected output=json, got %q", cfg.Output)
	}
	if cfg.NeedsGenesis {
		t.Fatalf("expected NeedsGenesis=false when config.yaml present")
	}
}

func TestLoad_MigratesLegacySingleFileConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	legacy := filepath.Join(home, ".coc.yaml")
	if err := os.WriteFile(legacy, []byte("model: claude-haiku-4\nparallel: 2\n"), 0o644); err != nil {
		t.Fatalf("write legacy config: %v", err)
	}
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Model != "claude-haiku-4" {
		t.Fatalf("expected migrated model=claude-haiku-4, got %q", cfg.Model)
	}
	if cfg.MigratedFrom != legacy {
		t.Fatalf("expected MigratedFrom=%q, got %q", legacy, cfg.MigratedFrom)
	}
	if _, err := os.Stat(config.ConfigPath(filepath.Join(home, ".coc"))); err != nil {
		t.Fatalf("expected migrated config.yaml to exist: %v", err)
	}
}

func TestLoad_InvalidOutputFallsBackToDefault(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".coc")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("output: yaml\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Output != config.OutputTable {
		t.Fatalf("expected invalid output to normalize to table, got %q", cfg.Output)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".coc")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("parallel: 2\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("HOME", home)
	t.Setenv("COC_PARALLEL", "16")
	t.Setenv("COC_SERVE_PORT", "9090")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Parallel != 16 {
		t.Fatalf("expected env override parallel=16, got %d", cfg.Parallel)
	}
	if cfg.Serve.Port != 9090 {
		t.Fatalf("expected env override serve.port=9090, got %d", cfg.Serve.Port)
	}
}

func TestFingerprint_ChangesWithSettings(t *testing.T) {
	a := config.Config{Model: "claude-sonnet-4", Parallel: 4}
	b := a
	b.Parallel = 8
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("expected different fingerprints for different parallel settings")
	}
	c := a
	if a.Fingerprint() != c.Fingerprint() {
		t.Fatalf("expected identical fingerprints for identical settings")
	}
}

func TestSetModel_WritesConfigPreservingOtherKeys(t *testing.T) {
	homeDir := t.TempDir()
	configPath := config.ConfigPath(homeDir)
	if err := os.WriteFile(configPath, []byte("parallel: 4\n"), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	if err := config.SetModel(homeDir, "gpt-4o-mini"); err != nil {
		t.Fatalf("SetModel: %v", err)
	}

	t.Setenv("COC_HOME", homeDir)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if cfg.Model != "gpt-4o-mini" {
		t.Fatalf("expected model=gpt-4o-mini, got %q", cfg.Model)
	}
	if cfg.Parallel != 4 {
		t.Fatalf("expected parallel=4 preserved, got %d", cfg.Parallel)
	}
}

func TestAvailableModels_FallsBackWhenNoKeysConfigured(t *testing.T) {
	got := config.AvailableModels()
	if len(got) == 0 {
		t.Fatal("expected at least one fallback model")
	}
}

func TestAvailableModels_AnthropicKeyPresent(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	got := config.AvailableModels()
	found := false
	for _, m := range got {
		if m == "claude-sonnet-4" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected claude-sonnet-4 in %v", got)
	}
}
