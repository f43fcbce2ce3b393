package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is loaded once from the environment at startup. Zero values fall
// back to the defaults below; the constants tables come from the embedded
// YAML unless PERMIT_TABLES_PATH points at an override file.
type Config struct {
	DatabaseURL string
	RedisURL    string

	FeedBaseURL    string
	FeedAppToken   string
	RoutingDataset string
	PermitsDataset string
	FeedTimeout    time.Duration
	FeedRatePerSec float64
	FeedPageSize   int

	BreakerThreshold int
	BreakerRecovery  time.Duration

	MinSampleSize      int
	CurrentWindowDays  int
	BaselineWindowDays int

	RefreshInterval time.Duration
	ProfileCacheTTL time.Duration
	MetricsAddr     string

	DefaultProjectCost float64

	Tables *Tables
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		FeedBaseURL:        getenv("FEED_BASE_URL", "https://data.sfgov.org"),
		FeedAppToken:       os.Getenv("FEED_APP_TOKEN"),
		RoutingDataset:     getenv("FEED_ROUTING_DATASET", "87xy-gk8d"),
		PermitsDataset:     getenv("FEED_PERMITS_DATASET", "i98e-djp9"),
		FeedTimeout:        getdur("FEED_TIMEOUT", 15*time.Second),
		FeedRatePerSec:     getfloat("FEED_RATE_PER_SEC", 4),
		FeedPageSize:       getint("FEED_PAGE_SIZE", 1000),
		BreakerThreshold:   getint("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerRecovery:    time.Duration(getint("BREAKER_RECOVERY_SEC", 60)) * time.Second,
		MinSampleSize:      getint("MIN_SAMPLE_SIZE", 30),
		CurrentWindowDays:  getint("CURRENT_WINDOW_DAYS", 90),
		BaselineWindowDays: getint("BASELINE_WINDOW_DAYS", 730),
		RefreshInterval:    getdur("REFRESH_INTERVAL", 6*time.Hour),
		ProfileCacheTTL:    getdur("PROFILE_CACHE_TTL", 15*time.Minute),
		MetricsAddr:        os.Getenv("METRICS_ADDR"),
		DefaultProjectCost: getfloat("DEFAULT_PROJECT_COST", 50000),
	}

	raw := defaultTables
	if path := os.Getenv("PERMIT_TABLES_PATH"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read permit tables: %w", err)
		}
		raw = b
	}
	t, err := ParseTables(raw)
	if err != nil {
		return nil, err
	}
	cfg.Tables = t
	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
