// Package config содержит логику чтения конфигурации библиотечного сервиса.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации библиотечного сервиса.
type Config struct {
	RunAddress    string        `env:"RUN_ADDRESS"`
	DatabaseURI   string        `env:"DATABASE_URI"`
	AuthSecret    string        `env:"AUTH_SECRET"`
	DailyFine     int64         `env:"DAILY_FINE"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL"`
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
	envAuthSecret := cfg.AuthSecret
	envDailyFine := cfg.DailyFine
	envSweepInterval := cfg.SweepInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for auth cookie signing")
	flag.Int64Var(&cfg.DailyFine, "f", 1000, "late fine per day in cents")
	flag.DurationVar(&cfg.SweepInterval, "i", time.Minute, "overdue sweep interval, 0 disables the background sweep")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if _, ok := os.LookupEnv("DAILY_FINE"); ok {
		cfg.DailyFine = envDailyFine
	}
	if _, ok := os.LookupEnv("SWEEP_INTERVAL"); ok {
		cfg.SweepInterval = envSweepInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DailyFine < 0 {
		return nil, fmt.Errorf("daily fine must not be negative, got %d", cfg.DailyFine)
	}

	return cfg, nil
}
