package config

import (
	"os"
	"testing"
	"time"
)

// unsetenv removes a variable for the test while keeping t.Setenv's
// restore-on-cleanup behavior.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "DB_PATH", "LLM_API_KEY", "LLM_MODEL", "LLM_TIMEOUT", "LLM_TEMPERATURE", "LLM_MAX_TOKENS",
	} {
		unsetenv(t, key)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.LLM.Model != "deepseek-chat" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("LLM.Temperature = %v", cfg.LLM.Temperature)
	}
	if cfg.LLM.Timeout != 30*time.Second {
		t.Errorf("LLM.Timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.AIEnabled() {
		t.Error("AIEnabled should be false without an API key")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DB_PATH", "/tmp/sb.db")
	t.Setenv("LLM_API_KEY", "k")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("LLM_TEMPERATURE", "1.2")
	t.Setenv("LLM_MAX_TOKENS", "500")
	t.Setenv("SEED_DEMO_DATA", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" || cfg.DBPath != "/tmp/sb.db" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.LLM.Timeout != 5*time.Second || cfg.LLM.MaxTokens != 500 {
		t.Errorf("LLM overrides not applied: %+v", cfg.LLM)
	}
	if cfg.LLM.Temperature != 1.2 {
		t.Errorf("LLM.Temperature = %v, want 1.2", cfg.LLM.Temperature)
	}
	if !cfg.SeedDemoData {
		t.Error("SEED_DEMO_DATA=true should enable seeding")
	}
	if !cfg.AIEnabled() {
		t.Error("AIEnabled should be true with an API key")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := &Config{
		Port:   "8080",
		DBPath: "./data/sb.db",
		LLM: LLMConfig{
			BaseURL:   "https://example.com",
			Model:     "m",
			Timeout:   time.Second,
			MaxTokens: 100,
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	broken := *valid
	broken.Port = ""
	if err := broken.Validate(); err == nil {
		t.Error("empty port should fail validation")
	}

	broken = *valid
	broken.LLM.Timeout = 0
	if err := broken.Validate(); err == nil {
		t.Error("zero timeout should fail validation")
	}

	broken = *valid
	broken.LLM.Temperature = -0.1
	if err := broken.Validate(); err == nil {
		t.Error("negative temperature should fail validation")
	}
}

func TestLoadTemperatureZero(t *testing.T) {
	t.Setenv("LLM_TEMPERATURE", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Temperature != 0 {
		t.Errorf("LLM.Temperature = %v, want 0", cfg.LLM.Temperature)
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Parallel()

	tests := []struct {
		frontendURL string
		want        bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:3000", true},
		{"https://sprintbot.example.com", false},
	}
	for _, tt := range tests {
		cfg := &Config{FrontendURL: tt.frontendURL}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.frontendURL, got, tt.want)
		}
	}
}
