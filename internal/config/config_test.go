package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.DBHost != "localhost" || cfg.DBPort != 5432 {
		t.Errorf("db = %s:%d", cfg.DBHost, cfg.DBPort)
	}
	if cfg.DefaultSinceDate != "1970-01-01T00:00:00Z" {
		t.Errorf("DefaultSinceDate = %s", cfg.DefaultSinceDate)
	}
	if cfg.SinceDeltaDays != 2 {
		t.Errorf("SinceDeltaDays = %d", cfg.SinceDeltaDays)
	}
	if cfg.RetryDelay != time.Hour {
		t.Errorf("RetryDelay = %s", cfg.RetryDelay)
	}
	if cfg.RetryLimit != 24 {
		t.Errorf("RetryLimit = %d", cfg.RetryLimit)
	}
	if cfg.MaxDepositAttempts != 10 {
		t.Errorf("MaxDepositAttempts = %d", cfg.MaxDepositAttempts)
	}
	if cfg.StoreResponseData {
		t.Error("StoreResponseData should default to false")
	}
	if cfg.PollInterval != 15*time.Minute {
		t.Errorf("PollInterval = %s", cfg.PollInterval)
	}
	if len(cfg.ContentRewriteHosts) != 2 {
		t.Errorf("ContentRewriteHosts = %v", cfg.ContentRewriteHosts)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("JPER_BASE_URL", "https://jper.internal/api/")
	t.Setenv("CONTENT_REWRITE_HOSTS", "https://a.example.org, https://b.example.org")
	t.Setenv("CONTENT_INTERNAL_HOST", "http://content.internal:5998")
	t.Setenv("DEFAULT_SINCE_DATE", "2025-01-01T00:00:00Z")
	t.Setenv("DEFAULT_SINCE_DELTA_DAYS", "5")
	t.Setenv("LONG_CYCLE_RETRY_DELAY", "30m")
	t.Setenv("LONG_CYCLE_RETRY_LIMIT", "12")
	t.Setenv("MAX_DEPOSIT_ATTEMPTS", "3")
	t.Setenv("STORE_RESPONSE_DATA", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.DBHost != "db.internal" {
		t.Errorf("DBHost = %s", cfg.DBHost)
	}
	if cfg.JPERBaseURL != "https://jper.internal/api" {
		t.Errorf("JPERBaseURL = %s (trailing slash should be trimmed)", cfg.JPERBaseURL)
	}
	if len(cfg.ContentRewriteHosts) != 2 || cfg.ContentRewriteHosts[0] != "https://a.example.org" {
		t.Errorf("ContentRewriteHosts = %v", cfg.ContentRewriteHosts)
	}
	if cfg.ContentInternalHost != "http://content.internal:5998" {
		t.Errorf("ContentInternalHost = %s", cfg.ContentInternalHost)
	}
	if cfg.DefaultSinceDate != "2025-01-01T00:00:00Z" {
		t.Errorf("DefaultSinceDate = %s", cfg.DefaultSinceDate)
	}
	if cfg.SinceDeltaDays != 5 {
		t.Errorf("SinceDeltaDays = %d", cfg.SinceDeltaDays)
	}
	if cfg.RetryDelay != 30*time.Minute {
		t.Errorf("RetryDelay = %s", cfg.RetryDelay)
	}
	if cfg.RetryLimit != 12 {
		t.Errorf("RetryLimit = %d", cfg.RetryLimit)
	}
	if cfg.MaxDepositAttempts != 3 {
		t.Errorf("MaxDepositAttempts = %d", cfg.MaxDepositAttempts)
	}
	if !cfg.StoreResponseData {
		t.Error("StoreResponseData should be true")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                   "not-a-number",
		"DEFAULT_SINCE_DATE":     "01.01.2025",
		"LONG_CYCLE_RETRY_DELAY": "an hour",
		"STORE_RESPONSE_DATA":    "maybe",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Errorf("expected an error for %s=%q", key, value)
			}
		})
	}
}
