// Package config reads process settings from the environment, loading a
// .env file first when one is present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Host   string
	Port   string
	AppEnv string

	DB DB

	StoreDriver string
	JWTSecret   string
	LogLevel    string
	CORSOrigins string

	PendingExpiry  time.Duration
	ExpiryInterval time.Duration
}

type DB struct {
	Host        string
	Port        string
	User        string
	Password    string
	Name        string
	SSLMode     string
	AutoMigrate bool
}

func (d DB) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode,
	)
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Load reads the .env file named by files (".env" when none) and then the
// environment. A missing file is not an error.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Config{
		Host:        getenv("HOST", "127.0.0.1"),
		Port:        getenv("PORT", "3000"),
		AppEnv:      getenv("APP_ENV", "development"),
		StoreDriver: strings.ToLower(getenv("STORE_DRIVER", DriverPostgres)),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		CORSOrigins: getenv("CORS_ALLOW_ORIGINS", "*"),
		DB: DB{
			Host:     getenv("DB_HOST", "localhost"),
			Port:     getenv("DB_PORT", "5432"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
		},
	}

	var err error
	if cfg.DB.AutoMigrate, err = boolEnv("DB_AUTO_MIGRATE", false); err != nil {
		return Config{}, err
	}
	if cfg.PendingExpiry, err = durationEnv("VAULT_PENDING_EXPIRY", 12*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.ExpiryInterval, err = durationEnv("VAULT_EXPIRY_INTERVAL", 5*time.Minute); err != nil {
		return Config{}, err
	}

	switch cfg.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return Config{}, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, cfg.StoreDriver)
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q", key, v)
	}
	return b, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration for %s: %q", key, v)
	}
	return d, nil
}
