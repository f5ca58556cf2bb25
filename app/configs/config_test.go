package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}

	applyDefaults(&cfg)

	if cfg.Agent.Name != "TaskPilot" {
		t.Fatalf("unexpected agent name: %q", cfg.Agent.Name)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %q", cfg.LLM.Model)
	}
	if cfg.LLM.APIKeyEnv != "OPENAI_API_KEY" {
		t.Fatalf("unexpected api key env: %q", cfg.LLM.APIKeyEnv)
	}
	if cfg.LLM.MaxTokens != 1024 {
		t.Fatalf("unexpected max tokens: %d", cfg.LLM.MaxTokens)
	}
	if cfg.Chat.HistoryLimit != 10 || cfg.Chat.MaxAttempts != 3 || cfg.Chat.BackoffStepSec != 5 {
		t.Fatalf("unexpected chat defaults: %+v", cfg.Chat)
	}
	if cfg.Server.Port != 8080 || cfg.Server.ShutdownTimeoutSec != 5 {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Agent: AgentConfig{Name: "Custom"},
		LLM:   LLMConfig{Model: "gpt-4o", MaxTokens: 2048},
		Chat:  ChatConfig{HistoryLimit: 20, MaxAttempts: 5, BackoffStepSec: 1},
	}

	applyDefaults(&cfg)

	if cfg.Agent.Name != "Custom" || cfg.LLM.Model != "gpt-4o" || cfg.LLM.MaxTokens != 2048 {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
	if cfg.Chat.HistoryLimit != 20 || cfg.Chat.MaxAttempts != 5 || cfg.Chat.BackoffStepSec != 1 {
		t.Fatalf("explicit chat values overwritten: %+v", cfg.Chat)
	}
}

func TestApplyDefaultsRejectsInvalidPort(t *testing.T) {
	cfg := Config{Server: ServerConfig{Port: 70000}}
	applyDefaults(&cfg)
	if cfg.Server.Port != 8080 {
		t.Fatalf("out-of-range port should fall back, got %d", cfg.Server.Port)
	}
}

func TestManagerCreatesFileWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config", "config.json")

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if mgr.Get().Agent.Name != "TaskPilot" {
		t.Fatalf("unexpected config: %+v", mgr.Get())
	}
}

func TestManagerLoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"agent":{"name":"Custom"},"server":{"port":9090}}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Agent.Name != "Custom" {
		t.Fatalf("file value lost: %q", cfg.Agent.Name)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("file value lost: %d", cfg.Server.Port)
	}
	// Omitted fields still get defaults.
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("defaults not applied: %q", cfg.LLM.Model)
	}
}

func TestManagerUpdatePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager failed: %v", err)
	}

	updated, err := mgr.Update(func(cfg *Config) {
		cfg.Chat.HistoryLimit = 25
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Chat.HistoryLimit != 25 {
		t.Fatalf("update not applied: %d", updated.Chat.HistoryLimit)
	}

	reloaded, err := NewManager(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if reloaded.Get().Chat.HistoryLimit != 25 {
		t.Fatalf("update not persisted: %d", reloaded.Get().Chat.HistoryLimit)
	}
}
