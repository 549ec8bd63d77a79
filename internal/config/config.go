package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	BaseURL    string

	DB struct {
		DSN string
	}

	DAV struct {
		MaxBodyBytes int64
		// WriteRate is the sustained writes per second allowed per principal.
		WriteRate  float64
		WriteBurst int
		ProductID  string
	}

	LogLevel          slog.Level
	PrometheusEnabled bool
	SchedulingEnabled bool
	TrustedProxies    []string
}

const defaultProductID = "-//jw6ventures//calstore//EN"

// Load reads the environment, after merging an optional .env file from the
// working directory. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", ":8080")
	cfg.BaseURL = strings.TrimRight(getenvDefault("APP_BASE_URL", "http://localhost:8080"), "/")
	cfg.DB.DSN = os.Getenv("APP_DB_DSN")

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" && password != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	var err error
	if cfg.DAV.MaxBodyBytes, err = getenvInt64("APP_MAX_BODY_BYTES", 10<<20); err != nil {
		return nil, err
	}
	if cfg.DAV.WriteRate, err = getenvFloat("APP_DAV_WRITE_RATE", 5); err != nil {
		return nil, err
	}
	burst, err := getenvInt64("APP_DAV_WRITE_BURST", 20)
	if err != nil {
		return nil, err
	}
	cfg.DAV.WriteBurst = int(burst)
	cfg.DAV.ProductID = getenvDefault("APP_PRODUCT_ID", defaultProductID)

	if err := cfg.LogLevel.UnmarshalText([]byte(getenvDefault("APP_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("APP_LOG_LEVEL: %w", err)
	}
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", false)
	cfg.SchedulingEnabled = getenvBool("APP_SCHEDULING_ENABLED", true)
	cfg.TrustedProxies = getenvList("APP_TRUSTED_PROXIES")

	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, APP_DB_USER, and APP_DB_PASSWORD)")
	}
	if cfg.DAV.MaxBodyBytes <= 0 {
		return nil, fmt.Errorf("APP_MAX_BODY_BYTES must be positive (got %d)", cfg.DAV.MaxBodyBytes)
	}
	if cfg.DAV.WriteRate <= 0 || cfg.DAV.WriteBurst <= 0 {
		return nil, errors.New("APP_DAV_WRITE_RATE and APP_DAV_WRITE_BURST must be positive")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}
