// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// DevJWTSecret is used only when Environment is development and no secret is
// configured.
const DevJWTSecret = "dev_secret"

// Config is the root application configuration.
type Config struct {
	Environment   string              `yaml:"environment"`
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Store         StoreConfig         `yaml:"store"`
	ResetTokens   ResetTokenConfig    `yaml:"reset_tokens"`
	Seed          SeedConfig          `yaml:"seed"`
	Documents     DocumentsConfig     `yaml:"documents"`
	Policy        PolicyConfig        `yaml:"policy"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// AuthConfig describes token issuance and password handling.
type AuthConfig struct {
	JWTSecret        string        `yaml:"jwt_secret"`
	JWTSecretEnv     string        `yaml:"jwt_secret_env"`
	Issuer           string        `yaml:"issuer"`
	TokenTTL         time.Duration `yaml:"token_ttl"`
	ResetTokenTTL    time.Duration `yaml:"reset_token_ttl"`
	ExposeResetToken bool          `yaml:"expose_reset_token"`
	BcryptCost       int           `yaml:"bcrypt_cost"`
	MinPasswordLen   int           `yaml:"min_password_length"`
}

// StoreConfig describes entity persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ResetTokenConfig describes where password reset tokens live.
type ResetTokenConfig struct {
	Driver        string        `yaml:"driver"`
	AddrEnv       string        `yaml:"addr_env"`
	DB            int           `yaml:"db"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SeedConfig describes the mock-data directory loaded at startup.
type SeedConfig struct {
	Directory string `yaml:"directory"`
}

// DocumentsConfig describes uploaded document storage.
type DocumentsConfig struct {
	Directory string `yaml:"directory"`
	MaxBytes  int64  `yaml:"max_bytes"`
}

// PolicyConfig points at an optional role policy file.
type PolicyConfig struct {
	File string `yaml:"file"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Auth: AuthConfig{
			JWTSecretEnv:   "JWT_SECRET",
			Issuer:         "govflow",
			TokenTTL:       12 * time.Hour,
			ResetTokenTTL:  15 * time.Minute,
			BcryptCost:     10,
			MinPasswordLen: 8,
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "GOVFLOW_DATABASE_URL",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		ResetTokens: ResetTokenConfig{
			Driver:        "memory",
			AddrEnv:       "GOVFLOW_REDIS_ADDR",
			SweepInterval: time.Minute,
		},
		Seed: SeedConfig{
			Directory: "seed",
		},
		Documents: DocumentsConfig{
			Directory: "data/documents",
			MaxBytes:  10 << 20,
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies a .env file and environment variable
// overrides, resolves secrets, and validates. A missing file at path is an
// error; an empty path skips the file and uses defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	applyEnvOverrides(cfg)
	cfg.resolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		errs = append(errs, fmt.Sprintf("environment must be %q or %q", EnvDevelopment, EnvProduction))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required outside development")
	}
	if c.Environment == EnvProduction && c.Auth.JWTSecret == DevJWTSecret {
		errs = append(errs, "auth.jwt_secret must not be the development secret in production")
	}
	if c.Environment == EnvProduction && c.Auth.ExposeResetToken {
		errs = append(errs, "auth.expose_reset_token must be false in production")
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, "auth.token_ttl must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, "auth.bcrypt_cost must be between 4 and 31")
	}
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported (memory, postgres)", c.Store.Driver))
	}
	switch c.ResetTokens.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("reset_tokens.driver %q is not supported (memory, redis)", c.ResetTokens.Driver))
	}
	if c.Documents.MaxBytes <= 0 {
		errs = append(errs, "documents.max_bytes must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// resolveSecrets reads the JWT secret from its environment variable and
// falls back to the development secret only in development.
func (c *Config) resolveSecrets() {
	if c.Auth.JWTSecret == "" && c.Auth.JWTSecretEnv != "" {
		c.Auth.JWTSecret = os.Getenv(c.Auth.JWTSecretEnv)
	}
	if c.Auth.JWTSecret == "" && c.Environment == EnvDevelopment {
		c.Auth.JWTSecret = DevJWTSecret
	}
}

// applyEnvOverrides reads GOVFLOW_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GOVFLOW_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("GOVFLOW_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GOVFLOW_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("GOVFLOW_RESET_TOKENS_DRIVER"); v != "" {
		cfg.ResetTokens.Driver = v
	}
	if v := os.Getenv("GOVFLOW_SEED_DIRECTORY"); v != "" {
		cfg.Seed.Directory = v
	}
	if v := os.Getenv("GOVFLOW_DOCUMENTS_DIRECTORY"); v != "" {
		cfg.Documents.Directory = v
	}
	if v := os.Getenv("GOVFLOW_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("GOVFLOW_AUTH_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Auth.TokenTTL = d
		}
	}
}
