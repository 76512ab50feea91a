package config

import (
	"os"
	"strconv"
)

// Config carries the process-level settings read from the environment.
// Analysis-level options travel in the request structs instead.
type Config struct {
	// DatabaseURL enables result persistence when non-empty.
	DatabaseURL string
	// LogLevel mirrors LOG_LEVEL (error, warn, info, debug).
	LogLevel string
	// Workers is the default fit parallelism when the CLI flag is unset.
	Workers int
}

// Load reads configuration from the environment. Call godotenv.Load first
// if a .env file should participate.
func Load() Config {
	cfg := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		Workers:     1,
	}
	if v := os.Getenv("OWAS_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	return cfg
}
