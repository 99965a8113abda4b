package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Environment != EnvProduction {
		t.Errorf("Environment = %q, want production", cfg.Environment)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if len(cfg.Server.CORS.AllowedOrigins) != 1 {
		t.Errorf("CORS.AllowedOrigins = %v, want 1 entry", cfg.Server.CORS.AllowedOrigins)
	}
	if cfg.Auth.JWTSecret != "test-secret-value" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 2h", cfg.Auth.TokenTTL)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSNEnv != "TEST_GOVFLOW_DSN" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.ResetTokens.Driver != "redis" {
		t.Errorf("ResetTokens.Driver = %q, want redis", cfg.ResetTokens.Driver)
	}
	if cfg.Documents.MaxBytes != 5242880 {
		t.Errorf("Documents.MaxBytes = %d", cfg.Documents.MaxBytes)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.Observability.LogLevel)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_secret_outside_development(t *testing.T) {
	_, err := Load("testdata/missing_secret.yaml")
	if err == nil {
		t.Fatal("Load() without a secret in production should return error")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("error = %v, want mention of jwt_secret", err)
	}
}

func TestLoad_secret_from_env(t *testing.T) {
	t.Setenv("GOVFLOW_TEST_UNSET_SECRET", "from-env")
	cfg, err := Load("testdata/missing_secret.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("Auth.JWTSecret = %q, want from-env", cfg.Auth.JWTSecret)
	}
}

func TestLoad_unsupported_driver(t *testing.T) {
	_, err := Load("testdata/bad_driver.yaml")
	if err == nil {
		t.Fatal("Load() with unsupported driver should return error")
	}
}

func TestLoad_no_file_uses_development_defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Auth.JWTSecret != DevJWTSecret {
		t.Errorf("Auth.JWTSecret = %q, want development secret", cfg.Auth.JWTSecret)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 3000 {
		t.Errorf("default Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Documents.MaxBytes != 10<<20 {
		t.Errorf("default Documents.MaxBytes = %d, want 10 MiB", cfg.Documents.MaxBytes)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("default Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GOVFLOW_SERVER_PORT", "4000")
	t.Setenv("GOVFLOW_STORE_DRIVER", "postgres")
	t.Setenv("GOVFLOW_AUTH_TOKEN_TTL", "30m")

	cfg := Defaults()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("Store.Driver = %q, want postgres", cfg.Store.Driver)
	}
	if cfg.Auth.TokenTTL != 30*time.Minute {
		t.Errorf("Auth.TokenTTL = %v, want 30m", cfg.Auth.TokenTTL)
	}
}

func TestValidate_production_rejects_dev_secret(t *testing.T) {
	cfg := Defaults()
	cfg.Environment = EnvProduction
	cfg.Auth.JWTSecret = DevJWTSecret
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should reject the development secret in production")
	}
}
