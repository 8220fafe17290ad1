package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	SchemeBearer = "bearer"
	SchemeRaw    = "raw"
	SchemeEither = "either"

	IDModeClient = "client"
	IDModeServer = "server"
)

type Config struct {
	Addr        string
	AppName     string
	Store       string
	DBPath      string
	DatabaseURL string
	JWTSecret   string
	TokenTTL    time.Duration
	AuthScheme  string
	IDMode      string
	LogLevel    string
	LogFormat   string
	RateLimits  RateLimits
}

type RateLimits struct {
	AuthPerMinute  int
	WritePerMinute int
}

// Load reads .env from the working directory when present, then the
// environment. Variables already set in the environment win over .env.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv()
}

func FromEnv() Config {
	addr := envString("FORUM_ADDR", "")
	if addr == "" {
		if port := os.Getenv("PORT"); port != "" {
			addr = ":" + port
		} else {
			addr = ":3000"
		}
	}
	return Config{
		Addr:        addr,
		AppName:     envString("FORUM_APP_NAME", "Teacher Forum"),
		Store:       envString("FORUM_STORE", StoreSQLite),
		DBPath:      envString("FORUM_DB", "teacherforum.db"),
		DatabaseURL: envString("DATABASE_URL", ""),
		JWTSecret:   envString("FORUM_JWT_SECRET", ""),
		TokenTTL:    envDuration("FORUM_TOKEN_TTL", 48*time.Hour),
		AuthScheme:  envString("FORUM_AUTH_SCHEME", SchemeEither),
		IDMode:      envString("FORUM_ID_MODE", IDModeClient),
		LogLevel:    envString("FORUM_LOG_LEVEL", "info"),
		LogFormat:   envString("FORUM_LOG_FORMAT", "text"),
		RateLimits: RateLimits{
			AuthPerMinute:  envInt("FORUM_RL_AUTH_PER_MIN", 30),
			WritePerMinute: envInt("FORUM_RL_WRITE_PER_MIN", 120),
		},
	}
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for store %q", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.AuthScheme {
	case SchemeBearer, SchemeRaw, SchemeEither:
	default:
		return fmt.Errorf("unknown auth scheme %q", c.AuthScheme)
	}
	switch c.IDMode {
	case IDModeClient, IDModeServer:
	default:
		return fmt.Errorf("unknown id mode %q", c.IDMode)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", c.TokenTTL)
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
