// Package config loads process-level settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// App holds the runtime settings shared by the commands. Simulation policy
// parameters are not here; they travel explicitly as engine.Config values.
type App struct {
	Environment string
	HTTPPort    int
	LogLevel    string

	ClickHouseDSN      string
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
}

// Load reads a .env file when present (missing is fine) and resolves the
// application settings from the environment.
func Load() (App, error) {
	_ = godotenv.Load()

	port, err := envInt("HTTP_PORT", 8080)
	if err != nil {
		return App{}, err
	}
	return App{
		Environment:        envStr("ENVIRONMENT", "dev"),
		HTTPPort:           port,
		LogLevel:           envStr("LOG_LEVEL", "info"),
		ClickHouseDSN:      envStr("CLICKHOUSE_DSN", "clickhouse://default:@localhost:9000?secure=false&compress=lz4"),
		ClickHouseDatabase: envStr("CH_DATABASE", "tradesim"),
		ClickHouseUser:     envStr("CH_USER", "tradesim"),
		ClickHousePassword: envStr("CH_PASSWORD", ""),
	}, nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("env %s: %w", key, err)
	}
	return n, nil
}
