package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverREST     = "rest"
)

// Config holds application configuration values.
type Config struct {
	AppPort string
	AppEnv  string

	StoreDriver string
	DataFile    string
	DatabaseURL string
	SQLitePath  string

	RESTURL        string
	RESTAPIKey     string
	RESTTimeout    time.Duration
	RESTMaxRetries int

	JWTSecret         string
	TokenExpires      time.Duration
	AdminEmail        string
	AdminPasswordHash string

	TelegramBotToken  string
	TelegramAdminChat string

	StoreProbeSchedule string

	SSLCertPath string
	SSLKeyPath  string
	HTTPSPort   string
}

// Load reads environment variables, after an optional .env file, and
// returns a populated Config.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		AppPort:            getEnv("APP_PORT", "3000"),
		AppEnv:             getEnv("APP_ENV", "development"),
		StoreDriver:        getEnv("STORE_DRIVER", DriverFile),
		DataFile:           getEnv("DATA_FILE", "data/orders.json"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SQLitePath:         getEnv("SQLITE_PATH", "data/orders.db"),
		RESTURL:            getEnv("REST_URL", ""),
		RESTAPIKey:         getEnv("REST_API_KEY", ""),
		RESTTimeout:        getEnvDuration("REST_TIMEOUT_SECONDS", 10) * time.Second,
		RESTMaxRetries:     getEnvInt("REST_MAX_RETRIES", 2),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		TokenExpires:       getEnvDuration("JWT_TTL_HOURS", 24) * time.Hour,
		AdminEmail:         getEnv("ADMIN_EMAIL", ""),
		AdminPasswordHash:  getEnv("ADMIN_PASSWORD_HASH", ""),
		TelegramBotToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAdminChat:  getEnv("TELEGRAM_ADMIN_CHAT_ID", ""),
		StoreProbeSchedule: getEnv("STORE_PROBE_SCHEDULE", "@every 1m"),
		SSLCertPath:        getEnv("SSL_CERT_PATH", ""),
		SSLKeyPath:         getEnv("SSL_KEY_PATH", ""),
		HTTPSPort:          getEnv("HTTPS_PORT", "8443"),
	}
}

// AdminAuthEnabled reports whether admin login and the guarded routes are on.
func (c *Config) AdminAuthEnabled() bool {
	return c.AdminEmail != "" && c.AdminPasswordHash != ""
}

// TLSEnabled reports whether both certificate files are present on disk.
func (c *Config) TLSEnabled() bool {
	if c.SSLCertPath == "" || c.SSLKeyPath == "" {
		return false
	}
	return fileExists(c.SSLCertPath) && fileExists(c.SSLKeyPath)
}

// Validate rejects combinations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.AppPort == "" {
		errs = append(errs, errors.New("APP_PORT must be set"))
	}

	switch c.StoreDriver {
	case DriverFile:
		if c.DataFile == "" {
			errs = append(errs, errors.New("DATA_FILE must be set for the file store"))
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH must be set for the sqlite store"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set for the postgres store"))
		}
	case DriverREST:
		if c.RESTURL == "" || c.RESTAPIKey == "" {
			errs = append(errs, errors.New("REST_URL and REST_API_KEY must be set for the rest store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.AdminAuthEnabled() && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must be set when admin auth is configured"))
	}

	return errors.Join(errs...)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback))
}
