// Package config reads service configuration from the environment, loading
// a local .env file first when present.
package config

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/saugat-sapkota-2/digital-wallet/notify"
)

// Config holds everything main needs to wire the service.
type Config struct {
	// DBURL is the Postgres connection string.
	DBURL string
	// RedisAddr is the host:port of the Redis holding staged actions.
	RedisAddr string
	// HTTPAddr is the listen address of the JSON adapter.
	HTTPAddr string
	// Currency is the symbol prefixed to user-facing amounts.
	Currency notify.Currency
}

// Load reads configuration, falling back to development defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		DBURL:     getenv("DB_URL", "postgres://localhost:5432/wallet?sslmode=disable"),
		RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
		HTTPAddr:  getenv("HTTP_ADDR", ":8080"),
		Currency:  notify.Currency(getenv("CURRENCY_SYMBOL", notify.DefaultSymbol)),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
