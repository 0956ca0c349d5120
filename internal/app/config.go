package app

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"

	"stocksync/internal/store"
)

// Config holds application configuration from env.
type Config struct {
	LogLevel string // debug | info | warn | error

	DB store.Config

	QuoteBaseURL     string
	QuoteAppKey      string `validate:"required"`
	QuoteAccessToken string `validate:"required"`

	RefBaseURL string
	RefAPIKey  string `validate:"required"`

	Workers             int
	CleanPassesToActive int

	SaveFormat string
	ExportDir  string
	ReportDir  string

	RunHour   int
	RunMinute int
}

// LoadConfig reads config from environment and validates it.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DB: store.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnv("DB_NAME", "stocksync"),
			SSLMode:  os.Getenv("DB_SSLMODE"),
			MinConns: getEnvInt("DB_MIN_CONNS", 0),
			MaxConns: getEnvInt("DB_MAX_CONNS", 0),
		},
		QuoteBaseURL:        os.Getenv("QUOTE_BASE_URL"),
		QuoteAppKey:         os.Getenv("QUOTE_APP_KEY"),
		QuoteAccessToken:    os.Getenv("QUOTE_ACCESS_TOKEN"),
		RefBaseURL:          os.Getenv("REF_BASE_URL"),
		RefAPIKey:           os.Getenv("REF_API_KEY"),
		Workers:             getEnvInt("WORKERS", 8),
		CleanPassesToActive: getEnvInt("CLEAN_PASSES_TO_ACTIVE", 2),
		SaveFormat:          getEnv("SAVE_FORMAT", "csv"),
		ExportDir:           getEnv("EXPORT_DIR", "export"),
		ReportDir:           getEnv("REPORT_DIR", "reports"),
		RunHour:             0,
		RunMinute:           30,
	}
	if h := os.Getenv("RUN_HOUR"); h != "" {
		if v, err := strconv.Atoi(h); err == nil && v >= 0 && v <= 23 {
			cfg.RunHour = v
		}
	}
	if m := os.Getenv("RUN_MINUTE"); m != "" {
		if v, err := strconv.Atoi(m); err == nil && v >= 0 && v <= 59 {
			cfg.RunMinute = v
		}
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := v.Struct(cfg.DB); err != nil {
		return nil, fmt.Errorf("config: db: %w", err)
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
