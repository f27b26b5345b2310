// Package config содержит логику чтения конфигурации сервиса doorprize.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultAPISecretKey используется, если API_SECRET_KEY не задан. При старте выводится предупреждение.
const DefaultAPISecretKey = "doorprize-default-secret-key"

const (
	defaultRunAddress     = "localhost:8080"
	defaultRequestTimeout = 2 * time.Minute
)

// Типы хранилища, которые умеет использовать сервис.
const (
	StoragePostgres = "postgres"
	StorageSupabase = "supabase"
)

// ErrNoStorage возвращается, если не задан ни DATABASE_URI, ни PUBLIC_SUPABASE_URL.
var ErrNoStorage = errors.New("either DATABASE_URI or PUBLIC_SUPABASE_URL must be set")

// Config содержит параметры конфигурации сервиса doorprize.
type Config struct {
	RunAddress         string        `env:"RUN_ADDRESS"`
	Port               string        `env:"PORT"`
	DatabaseURI        string        `env:"DATABASE_URI"`
	SupabaseURL        string        `env:"PUBLIC_SUPABASE_URL"`
	SupabaseAnonKey    string        `env:"PUBLIC_SUPABASE_ANON_KEY"`
	SupabaseServiceKey string        `env:"SUPABASE_SERVICE_ROLE_KEY"`
	APISecretKey       string        `env:"API_SECRET_KEY"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT"`
	AllowedOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	Environment        string        `env:"ENVIRONMENT" envDefault:"development"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envSupabaseURL := cfg.SupabaseURL
	envAPISecretKey := cfg.APISecretKey
	envRequestTimeout := cfg.RequestTimeout

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.SupabaseURL, "s", "", "supabase project URL")
	flag.StringVar(&cfg.APISecretKey, "k", "", "shared secret expected in the x-api-key header")
	flag.DurationVar(&cfg.RequestTimeout, "t", defaultRequestTimeout, "per-request timeout")

	flag.Parse()

	switch {
	case envRunAddress != "":
		cfg.RunAddress = envRunAddress
	case cfg.Port != "":
		cfg.RunAddress = ":" + cfg.Port
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envSupabaseURL != "" {
		cfg.SupabaseURL = envSupabaseURL
	}
	if envAPISecretKey != "" {
		cfg.APISecretKey = envAPISecretKey
	}
	if envRequestTimeout > 0 {
		cfg.RequestTimeout = envRequestTimeout
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.APISecretKey == "" {
		cfg.APISecretKey = DefaultAPISecretKey
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	if cfg.DatabaseURI == "" && cfg.SupabaseURL == "" {
		return nil, ErrNoStorage
	}

	return cfg, nil
}

// Storage возвращает тип используемого хранилища. Прямое подключение к PostgreSQL имеет приоритет.
func (c *Config) Storage() string {
	if c.DatabaseURI != "" {
		return StoragePostgres
	}
	return StorageSupabase
}

// UsesDefaultAPISecret сообщает, что сервис работает с секретом-заглушкой.
func (c *Config) UsesDefaultAPISecret() bool {
	return c.APISecretKey == DefaultAPISecretKey
}
