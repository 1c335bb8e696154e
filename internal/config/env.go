package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const devSecret = "dev-secret-change-me"

// Load reads .env files when present, then parses the environment.
func Load() (*Config, error) {
	loadEnvFiles()
	return Parse()
}

// Parse builds a Config from the current environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		if cfg.Service.Env != "development" {
			return nil, fmt.Errorf("JWT_SECRET is required outside development")
		}
		cfg.JWT.Secret = devSecret
	}
	switch cfg.Store.Driver {
	case "postgres", "memory":
	default:
		return nil, fmt.Errorf("STORE_DRIVER must be postgres or memory, got %q", cfg.Store.Driver)
	}
	if cfg.Chat.PingInterval <= 0 {
		return nil, fmt.Errorf("CHAT_PING_INTERVAL must be positive")
	}
	if cfg.Chat.MaxMessageLength <= 0 {
		return nil, fmt.Errorf("CHAT_MAX_MESSAGE_LENGTH must be positive")
	}
	return cfg, nil
}

func loadEnvFiles() {
	for _, path := range []string{".env", "../.env"} {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
