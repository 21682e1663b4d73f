package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the AccessGate server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Session  SessionConfig
	Token    TokenConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type SessionConfig struct {
	JWTSecret string
	TTL       time.Duration
}

// TokenConfig sets the family access token policy. Defaults mirror the
// platform policy: a shared code lives seven days and admits ten uses.
type TokenConfig struct {
	DefaultTTL        time.Duration
	DefaultMaxUses    int
	GrantTTL          time.Duration
	AttemptsPerMinute int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("ACCESSGATE_PORT", 8080),
			Env:  envString("ACCESSGATE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Session: SessionConfig{
			JWTSecret: os.Getenv("SESSION_JWT_SECRET"),
			TTL:       envDuration("SESSION_TTL", 12*time.Hour),
		},
		Token: TokenConfig{
			DefaultTTL:        envDuration("FAMILY_TOKEN_TTL", 7*24*time.Hour),
			DefaultMaxUses:    envInt("FAMILY_TOKEN_MAX_USES", 10),
			GrantTTL:          envDuration("FAMILY_GRANT_TTL", 15*time.Minute),
			AttemptsPerMinute: envInt("FAMILY_ATTEMPTS_PER_MIN", 10),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Session.JWTSecret == "" {
		return fmt.Errorf("SESSION_JWT_SECRET is required")
	}
	if len(c.Session.JWTSecret) < 32 {
		return fmt.Errorf("SESSION_JWT_SECRET must be at least 32 bytes, got %d", len(c.Session.JWTSecret))
	}

	if c.Token.DefaultTTL <= 0 {
		return fmt.Errorf("FAMILY_TOKEN_TTL must be positive")
	}
	if c.Token.DefaultMaxUses <= 0 {
		return fmt.Errorf("FAMILY_TOKEN_MAX_USES must be positive")
	}
	if c.Token.GrantTTL <= 0 {
		return fmt.Errorf("FAMILY_GRANT_TTL must be positive")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
