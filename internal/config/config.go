package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sheikh-saqib/lesson-credit-ledger/internal/analytics"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string // empty: in-memory store

	KafkaBrokers []string // empty: events are not published
	KafkaTopic   string

	LowBalanceThreshold int64
	AbsenceDays         int
	HistoryLimit        int
	UsageMonths         int
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	cfg := Config{
		Port:         getenv("APP_PORT", "8080"),
		Env:          getenv("APP_ENV", "dev"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		KafkaBrokers: splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "ledger.entries"),
	}

	var err error
	if cfg.LowBalanceThreshold, err = getInt64("LOW_BALANCE_THRESHOLD", 5); err != nil {
		return Config{}, err
	}
	if cfg.AbsenceDays, err = getInt("ABSENCE_DAYS", 7); err != nil {
		return Config{}, err
	}
	if cfg.HistoryLimit, err = getInt("HISTORY_LIMIT", 100); err != nil {
		return Config{}, err
	}
	if cfg.UsageMonths, err = getInt("USAGE_MONTHS", 6); err != nil {
		return Config{}, err
	}
	if cfg.UsageMonths < 1 || cfg.UsageMonths > analytics.MaxMonths {
		return Config{}, fmt.Errorf("USAGE_MONTHS must be in [1, %d], got %d", analytics.MaxMonths, cfg.UsageMonths)
	}

	// Railway/Heroku style URLs
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") {
		cfg.DatabaseURL = "postgresql://" + strings.TrimPrefix(cfg.DatabaseURL, "postgres://")
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("config: " + k + " must be an integer")
	}
	return n, nil
}

func getInt64(k string, def int64) (int64, error) {
	n, err := getInt(k, int(def))
	return int64(n), err
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
