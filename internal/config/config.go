package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (optional; the per-account pass lock is disabled when unset)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// JPER notifications service
	JPERBaseURL string

	// Content links on these hosts are rewritten to the internal mirror
	// before fetching. Disabled when ContentInternalHost is empty.
	ContentRewriteHosts []string
	ContentInternalHost string

	// Deposit engine
	DefaultSinceDate   string
	SinceDeltaDays     int
	RetryDelay         time.Duration
	RetryLimit         int
	MaxDepositAttempts int
	StoreResponseData  bool
	PollInterval       time.Duration
	TmpDir             string
	ResponseDir        string

	// Suspension alerting via SES (disabled unless AlertTo is set)
	AlertRegion string
	AlertFrom   string
	AlertTo     string
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "swordout",
		DBPassword: "",
		DBName:     "swordout",
		DBSSLMode:  "disable",

		RedisPort: 6379,

		JPERBaseURL: "https://www.oa-deepgreen.de/api",

		ContentRewriteHosts: []string{"https://www.oa-deepgreen.de", "https://test.oa-deepgreen.de"},

		DefaultSinceDate:   "1970-01-01T00:00:00Z",
		SinceDeltaDays:     2,
		RetryDelay:         time.Hour,
		RetryLimit:         24,
		MaxDepositAttempts: 10,
		PollInterval:       15 * time.Minute,
		TmpDir:             os.TempDir(),

		AlertRegion: "eu-central-1",
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// JPER config
	if u := os.Getenv("JPER_BASE_URL"); u != "" {
		cfg.JPERBaseURL = strings.TrimRight(u, "/")
	}

	if hosts := os.Getenv("CONTENT_REWRITE_HOSTS"); hosts != "" {
		cfg.ContentRewriteHosts = nil
		for _, h := range strings.Split(hosts, ",") {
			h = strings.TrimSpace(h)
			if h != "" {
				cfg.ContentRewriteHosts = append(cfg.ContentRewriteHosts, h)
			}
		}
	}

	if host := os.Getenv("CONTENT_INTERNAL_HOST"); host != "" {
		cfg.ContentInternalHost = host
	}

	// Deposit engine config
	if d := os.Getenv("DEFAULT_SINCE_DATE"); d != "" {
		if _, err := time.Parse(time.RFC3339, d); err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_SINCE_DATE: %w", err)
		}
		cfg.DefaultSinceDate = d
	}

	if days := os.Getenv("DEFAULT_SINCE_DELTA_DAYS"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_SINCE_DELTA_DAYS: %w", err)
		}
		cfg.SinceDeltaDays = d
	}

	if delay := os.Getenv("LONG_CYCLE_RETRY_DELAY"); delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return nil, fmt.Errorf("invalid LONG_CYCLE_RETRY_DELAY: %w", err)
		}
		cfg.RetryDelay = d
	}

	if limit := os.Getenv("LONG_CYCLE_RETRY_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid LONG_CYCLE_RETRY_LIMIT: %w", err)
		}
		cfg.RetryLimit = l
	}

	if max := os.Getenv("MAX_DEPOSIT_ATTEMPTS"); max != "" {
		m, err := strconv.Atoi(max)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_DEPOSIT_ATTEMPTS: %w", err)
		}
		cfg.MaxDepositAttempts = m
	}

	if store := os.Getenv("STORE_RESPONSE_DATA"); store != "" {
		b, err := strconv.ParseBool(store)
		if err != nil {
			return nil, fmt.Errorf("invalid STORE_RESPONSE_DATA: %w", err)
		}
		cfg.StoreResponseData = b
	}

	if interval := os.Getenv("POLL_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}

	if dir := os.Getenv("TMP_DIR"); dir != "" {
		cfg.TmpDir = dir
	}

	if dir := os.Getenv("RESPONSE_DIR"); dir != "" {
		cfg.ResponseDir = dir
	}

	// Alerting config
	if region := os.Getenv("ALERT_REGION"); region != "" {
		cfg.AlertRegion = region
	}

	if from := os.Getenv("ALERT_FROM"); from != "" {
		cfg.AlertFrom = from
	}

	if to := os.Getenv("ALERT_TO"); to != "" {
		cfg.AlertTo = to
	}

	return cfg, nil
}
