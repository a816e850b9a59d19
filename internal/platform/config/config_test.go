package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_RequiresServiceName(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without SERVICE_NAME")
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SERVICE_NAME", "progress")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("APP_ENV", "Production")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.HTTP.Addr)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected info, got %q", cfg.LogLevel)
	}
	if !cfg.IsProd() {
		t.Fatal("expected IsProd for APP_ENV=Production")
	}
}

func TestLoad_DotenvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("SERVICE_NAME=from-file\nLOG_LEVEL=debug\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	t.Setenv("APP_ENV", "")
	t.Setenv("SERVICE_NAME", "progress")
	t.Setenv("LOG_LEVEL", "")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServiceName != "progress" {
		t.Fatalf("expected environment to win, got %q", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug from file, got %q", cfg.LogLevel)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "7")
	t.Setenv("CFG_TEST_BADINT", "x")
	t.Setenv("CFG_TEST_FLOAT", "2.5")
	t.Setenv("CFG_TEST_DUR", "3s")
	t.Setenv("CFG_TEST_BOOL", "no")

	if v := EnvInt("CFG_TEST_INT", 1); v != 7 {
		t.Fatalf("expected 7, got %d", v)
	}
	if v := EnvInt("CFG_TEST_BADINT", 1); v != 1 {
		t.Fatalf("expected fallback 1, got %d", v)
	}
	if v := EnvFloat("CFG_TEST_FLOAT", 1); v != 2.5 {
		t.Fatalf("expected 2.5, got %v", v)
	}
	if v := EnvDuration("CFG_TEST_DUR", time.Second); v != 3*time.Second {
		t.Fatalf("expected 3s, got %s", v)
	}
	if EnvBool("CFG_TEST_BOOL", true) {
		t.Fatal("expected false for 'no'")
	}
	if v := Env("CFG_TEST_MISSING", "dflt"); v != "dflt" {
		t.Fatalf("expected fallback, got %q", v)
	}
}
