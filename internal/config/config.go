package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultMobileTokens are matched case-insensitively against the User-Agent
// to classify a client as mobile/tablet.
var DefaultMobileTokens = []string{"Android", "iPhone", "iPad", "iPod", "Mobile"}

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port              string
	Env               string
	DBURL             string
	AuthURL           string
	AuthAPIKey        string
	AuthJWTSecret     string
	AuthTimeoutSecs   int
	RefreshLeewaySecs int
	CookieSecure      bool
	RedisURL          string
	ProfileCacheSecs  int
	AdminPassHash     string
	MobileTokens      []string
	EventBuffer       int
	ReadTimeoutSecs   int
	WriteTimeoutSecs  int
	IdleTimeoutSecs   int
	DBMaxConns        int
	DBMinConns        int
	DBMaxIdleSecs     int
	DBMaxLifeSecs     int
	DBConnTimeoutSecs int
	DBStatementCache  int
}

// Load reads configuration from environment variables, applying defaults and validation.
func Load() (Config, error) {
	cfg := Config{
		Port:              getEnv("PORT", "8080"),
		Env:               getEnv("APP_ENV", "development"),
		DBURL:             os.Getenv("DB_URL"),
		AuthURL:           os.Getenv("AUTH_URL"),
		AuthAPIKey:        os.Getenv("AUTH_API_KEY"),
		AuthJWTSecret:     os.Getenv("AUTH_JWT_SECRET"),
		AuthTimeoutSecs:   getEnvInt("AUTH_TIMEOUT_SECS", 5),
		RefreshLeewaySecs: getEnvInt("SESSION_REFRESH_LEEWAY_SECS", 60),
		CookieSecure:      getEnvBool("COOKIE_SECURE", true),
		RedisURL:          os.Getenv("REDIS_URL"),
		ProfileCacheSecs:  getEnvInt("PROFILE_CACHE_TTL_SECS", 300),
		AdminPassHash:     os.Getenv("ADMIN_PASSPHRASE_HASH"),
		MobileTokens:      getEnvList("MOBILE_UA_TOKENS", DefaultMobileTokens),
		EventBuffer:       getEnvInt("AUTH_EVENT_BUFFER", 64),
		ReadTimeoutSecs:   getEnvInt("SERVER_READ_TIMEOUT", 15),
		WriteTimeoutSecs:  getEnvInt("SERVER_WRITE_TIMEOUT", 15),
		IdleTimeoutSecs:   getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		DBMaxConns:        getEnvInt("DB_MAX_CONNS", 20),
		DBMinConns:        getEnvInt("DB_MIN_CONNS", 2),
		DBMaxIdleSecs:     getEnvInt("DB_MAX_CONN_IDLE_SECS", 300),
		DBMaxLifeSecs:     getEnvInt("DB_MAX_CONN_LIFETIME_SECS", 3600),
		DBConnTimeoutSecs: getEnvInt("DB_CONN_TIMEOUT_SECS", 10),
		DBStatementCache:  getEnvInt("DB_STATEMENT_CACHE_CAPACITY", 256),
	}

	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("DB_URL is required")
	}
	if cfg.AuthURL == "" {
		return Config{}, fmt.Errorf("AUTH_URL is required")
	}
	if cfg.AuthAPIKey == "" {
		return Config{}, fmt.Errorf("AUTH_API_KEY is required")
	}
	if cfg.AuthJWTSecret == "" {
		return Config{}, fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if cfg.AdminPassHash == "" {
		return Config{}, fmt.Errorf("ADMIN_PASSPHRASE_HASH is required")
	}
	if cfg.AuthTimeoutSecs <= 0 {
		return Config{}, fmt.Errorf("AUTH_TIMEOUT_SECS must be positive")
	}
	if cfg.RefreshLeewaySecs < 0 {
		return Config{}, fmt.Errorf("SESSION_REFRESH_LEEWAY_SECS must be non-negative")
	}
	if cfg.ProfileCacheSecs <= 0 {
		return Config{}, fmt.Errorf("PROFILE_CACHE_TTL_SECS must be positive")
	}
	if len(cfg.MobileTokens) == 0 {
		return Config{}, fmt.Errorf("MOBILE_UA_TOKENS must list at least one token")
	}
	if cfg.EventBuffer <= 0 {
		return Config{}, fmt.Errorf("AUTH_EVENT_BUFFER must be positive")
	}
	if cfg.DBMaxConns <= 0 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return Config{}, fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return Config{}, fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
