package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWithIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "agents.yaml", `
agents:
  - name: "assistant"
    system_prompt: "You help."
    model: "gpt-4o-mini"
`)
	main := writeConfigFile(t, dir, "config.yaml", `
includes:
  - agents.yaml
llm:
  default_provider: "openai"
  providers:
    - name: "openai"
      type: "openai"
      api_key: "sk-test"
      model: "gpt-4o-mini"
`)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Name != "assistant" {
		t.Errorf("Agents = %+v, want included agent", cfg.Agents)
	}
	if cfg.LLM.Providers[0].APIKey != "sk-test" {
		t.Errorf("main config values should survive include merge")
	}
}

func TestLoadMainConfigWinsOverInclude(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "logger.yaml", `
logger:
  level: "debug"
  format: "json"
`)
	main := writeConfigFile(t, dir, "config.yaml", `
includes:
  - logger.yaml
logger:
  level: "warn"
`)

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Level != "warn" {
		t.Errorf("Logger.Level = %q, want main config to win", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "json" {
		t.Errorf("Logger.Format = %q, want value from include", cfg.Logger.Format)
	}
}

func TestLoadCircularInclude(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "a.yaml", "includes:\n  - b.yaml\n")
	writeConfigFile(t, dir, "b.yaml", "includes:\n  - a.yaml\n")
	main := writeConfigFile(t, dir, "config.yaml", "includes:\n  - a.yaml\n")

	if _, err := Load(main); err == nil {
		t.Error("expected circular include error")
	}
}

func TestLoadIncludeEscapesDir(t *testing.T) {
	dir := t.TempDir()
	main := writeConfigFile(t, dir, "config.yaml", "includes:\n  - ../outside.yaml\n")

	if _, err := Load(main); err == nil {
		t.Error("expected path traversal error")
	}
}
