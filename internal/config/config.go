// Package config loads the sale engine's runtime configuration from
// the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the runtime settings for the sale engine.
type Config struct {
	// Port the HTTP server listens on.
	Port string

	// DatabaseURL is the PostgreSQL connection string. Empty falls back
	// to the in-memory store.
	DatabaseURL string

	// RedisURL enables the read-through cache in front of PostgreSQL.
	RedisURL string

	// OwnerKey identifies the caller allowed to perform privileged
	// round operations.
	OwnerKey string

	// PoolAccount is the custody account holding sale-token inventory
	// and pulled contributions.
	PoolAccount string

	// TreasuryAccount receives raised funds when positions are claimed.
	TreasuryAccount string

	// TokenSpecs seeds the in-memory token bank when no external ledger
	// is wired, as comma-separated SYMBOL:DECIMALS pairs.
	TokenSpecs string
}

// ParseTokens parses TokenSpecs into symbol → decimals.
func (c *Config) ParseTokens() (map[string]int32, error) {
	tokens := make(map[string]int32)
	if c.TokenSpecs == "" {
		return tokens, nil
	}
	for _, pair := range strings.Split(c.TokenSpecs, ",") {
		sym, dec, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || sym == "" {
			return nil, fmt.Errorf("invalid token spec %q", pair)
		}
		n, err := strconv.ParseInt(dec, 10, 32)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid decimals in token spec %q", pair)
		}
		tokens[sym] = int32(n)
	}
	return tokens, nil
}

// Load reads configuration from the environment, consulting a .env
// file if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:            envOr("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		OwnerKey:        os.Getenv("OWNER_KEY"),
		PoolAccount:     envOr("POOL_ACCOUNT", "pool"),
		TreasuryAccount: envOr("TREASURY_ACCOUNT", "treasury"),
		TokenSpecs:      os.Getenv("TOKENS"),
	}
}

// Validate checks that the settings required for safe operation are
// present.
func (c *Config) Validate() error {
	if c.OwnerKey == "" {
		return fmt.Errorf("OWNER_KEY is required")
	}
	if c.PoolAccount == "" {
		return fmt.Errorf("POOL_ACCOUNT is required")
	}
	if c.TreasuryAccount == "" {
		return fmt.Errorf("TREASURY_ACCOUNT is required")
	}
	if c.PoolAccount == c.TreasuryAccount {
		return fmt.Errorf("POOL_ACCOUNT and TREASURY_ACCOUNT must differ")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
