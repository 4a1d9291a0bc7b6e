package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultTimezone = "America/Argentina/Buenos_Aires"

type Config struct {
	Port                    string
	AllowedOrigin           string
	DatabaseURL             string
	RedisAddr               string
	RedisPassword           string
	RedisDB                 int
	SummaryCacheTTLSeconds  int
	AuthSecret              string
	AccessTokenTTLMinutes   int
	ManagerPIN              string
	BootstrapAdminUsername  string
	BootstrapAdminPassword  string
	Timezone                string
	ConsistencyCheckMinutes int
	TxMaxRetries            int
	TxRetryBaseMS           int
	LockTimeoutMS           int
	BulkConcurrency         int
	LogLevel                string
	LogFormat               string
}

// Load reads the process environment. A .env file in the working directory
// is loaded first when present; variables already set win over it.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                    getEnv("PORT", "8080"),
		AllowedOrigin:           getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
		RedisPassword:           os.Getenv("REDIS_PASSWORD"),
		RedisDB:                 redisDB,
		SummaryCacheTTLSeconds:  getInt("SUMMARY_CACHE_TTL_SECONDS", 30, 1),
		AuthSecret:              strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:   getInt("ACCESS_TOKEN_TTL_MINUTES", 480, 1),
		ManagerPIN:              strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		BootstrapAdminUsername:  getEnv("BOOTSTRAP_ADMIN_USERNAME", "admin"),
		BootstrapAdminPassword:  os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
		Timezone:                getEnv("LEDGER_TIMEZONE", DefaultTimezone),
		ConsistencyCheckMinutes: getInt("CONSISTENCY_CHECK_MINUTES", 15, 0),
		TxMaxRetries:            getInt("TX_MAX_RETRIES", 4, 0),
		TxRetryBaseMS:           getInt("TX_RETRY_BASE_MS", 25, 1),
		LockTimeoutMS:           getInt("PG_LOCK_TIMEOUT_MS", 3000, 1),
		BulkConcurrency:         getInt("BULK_CONCURRENCY", 4, 1),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogFormat:               getEnv("LOG_FORMAT", "console"),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves the timezone that decides what "today" is for records
// and expense payments.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load LEDGER_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) SummaryCacheTTL() time.Duration {
	return time.Duration(c.SummaryCacheTTLSeconds) * time.Second
}

func (c Config) TxRetryBase() time.Duration {
	return time.Duration(c.TxRetryBaseMS) * time.Millisecond
}

func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

func (c Config) ConsistencyCheckInterval() time.Duration {
	return time.Duration(c.ConsistencyCheckMinutes) * time.Minute
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

// getInt falls back when the value is missing, malformed or below min.
func getInt(key string, fallback int, min int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < min {
		return fallback
	}
	return n
}
