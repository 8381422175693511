package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("HUGGINGFACE_API_KEY", "hf_test")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error: %v", err)
	}

	if cfg.Backend != BackendHuggingFace {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.Port != 5000 {
		t.Errorf("Port = %d, want 5000", cfg.Port)
	}
	if cfg.Defaults.Width != 1024 || cfg.Defaults.Height != 1024 {
		t.Errorf("default size = %dx%d", cfg.Defaults.Width, cfg.Defaults.Height)
	}
	if cfg.Defaults.GuidanceScale != 7.5 {
		t.Errorf("GuidanceScale = %v", cfg.Defaults.GuidanceScale)
	}
	if cfg.Defaults.Steps != 50 {
		t.Errorf("Steps = %d", cfg.Defaults.Steps)
	}
	if cfg.Defaults.Model != "flux-schnell" {
		t.Errorf("Model = %q", cfg.Defaults.Model)
	}
	if cfg.BackendTimeout != 2*time.Minute {
		t.Errorf("Timeout = %v", cfg.BackendTimeout)
	}
	if cfg.DB.Enabled() {
		t.Error("DB should be disabled without DB_HOST")
	}
	if cfg.IsProduction() {
		t.Error("default env should not be production")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("HUGGINGFACE_API_KEY", "hf_test")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("DEFAULT_IMAGE_WIDTH", "512")
	t.Setenv("BACKEND_TIMEOUT", "30s")
	t.Setenv("HISTORY_RETENTION", "24h")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false")
	}
	if cfg.Defaults.Width != 512 {
		t.Errorf("Width = %d", cfg.Defaults.Width)
	}
	if cfg.BackendTimeout != 30*time.Second {
		t.Errorf("Timeout = %v", cfg.BackendTimeout)
	}
	if cfg.History.Retention != 24*time.Hour {
		t.Errorf("Retention = %v", cfg.History.Retention)
	}
}

func TestFromEnv_RequiresCredentialForBackend(t *testing.T) {
	t.Setenv("HUGGINGFACE_API_KEY", "")
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "HUGGINGFACE_API_KEY") {
		t.Errorf("expected missing HF key error, got %v", err)
	}

	t.Setenv("IMAGEGATE_BACKEND", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Errorf("expected missing OpenAI key error, got %v", err)
	}

	t.Setenv("IMAGEGATE_BACKEND", "dalle-local")
	if _, err := FromEnv(); err == nil {
		t.Error("expected unknown backend error")
	}
}

func TestFromEnv_DatabaseMustBeComplete(t *testing.T) {
	t.Setenv("HUGGINGFACE_API_KEY", "hf_test")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_USER", "gate")

	_, err := FromEnv()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got %v", err)
	}

	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("DB_NAME", "imagegate")
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error: %v", err)
	}
	want := "host=localhost port=5432 user=gate password=secret dbname=imagegate sslmode=disable"
	if got := cfg.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("HUGGINGFACE_API_KEY=hf_from_file\nPORT=8081\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	// godotenv does not override variables that are already set.
	t.Setenv("HUGGINGFACE_API_KEY", "")
	os.Unsetenv("HUGGINGFACE_API_KEY")
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.HuggingFace.APIKey != "hf_from_file" {
		t.Errorf("APIKey = %q", cfg.HuggingFace.APIKey)
	}
	if cfg.Port != 8081 {
		t.Errorf("Port = %d", cfg.Port)
	}
}

func TestLoad_MissingDotEnvIsTolerated(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HUGGINGFACE_API_KEY", "hf_env")

	if _, err := Load(); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
}
