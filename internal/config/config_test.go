package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	if cfg.AppName != "hookrelay" {
		t.Errorf("AppName = %q, want hookrelay", cfg.AppName)
	}
	if cfg.NSQ.DeliveriesTopic != "deliveries" {
		t.Errorf("DeliveriesTopic = %q, want deliveries", cfg.NSQ.DeliveriesTopic)
	}
	if cfg.NSQ.DrainTopic != "observability_batches" {
		t.Errorf("DrainTopic = %q, want observability_batches", cfg.NSQ.DrainTopic)
	}
	if cfg.Webhook.Timeout != 10*time.Second {
		t.Errorf("Webhook.Timeout = %v, want 10s", cfg.Webhook.Timeout)
	}
	if cfg.Webhook.SyncTimeout != 5*time.Second {
		t.Errorf("Webhook.SyncTimeout = %v, want 5s", cfg.Webhook.SyncTimeout)
	}
	if cfg.Retry.BaseBackoff != 10*time.Second {
		t.Errorf("Retry.BaseBackoff = %v, want 10s", cfg.Retry.BaseBackoff)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("Retry.MaxRetries = %d, want 5", cfg.Retry.MaxRetries)
	}
	if cfg.Observability.BatchSize != 100 {
		t.Errorf("Observability.BatchSize = %d, want 100", cfg.Observability.BatchSize)
	}
	if cfg.Observability.ReportPeriod != 20*time.Second {
		t.Errorf("Observability.ReportPeriod = %v, want 20s", cfg.Observability.ReportPeriod)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_NAME", "relay_test")
	t.Setenv("SITE_DOMAIN", "store.example.com")
	t.Setenv("MAX_RETRIES", "3")
	t.Setenv("RETRY_BASE_BACKOFF", "2s")
	t.Setenv("OBSERVABILITY_BATCH_SIZE", "50")

	cfg := FromEnv()

	if cfg.DB.Host != "db.internal" {
		t.Errorf("DB.Host = %q, want db.internal", cfg.DB.Host)
	}
	if cfg.Webhook.SiteDomain != "store.example.com" {
		t.Errorf("SiteDomain = %q, want store.example.com", cfg.Webhook.SiteDomain)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.BaseBackoff != 2*time.Second {
		t.Errorf("BaseBackoff = %v, want 2s", cfg.Retry.BaseBackoff)
	}
	if cfg.Observability.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want 50", cfg.Observability.BatchSize)
	}
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("MAX_RETRIES", "lots")
	t.Setenv("WEBHOOK_TIMEOUT", "soon")

	cfg := FromEnv()

	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want default 5 for malformed value", cfg.Retry.MaxRetries)
	}
	if cfg.Webhook.Timeout != 10*time.Second {
		t.Errorf("Webhook.Timeout = %v, want default 10s for malformed value", cfg.Webhook.Timeout)
	}
}

func TestDSN(t *testing.T) {
	t.Setenv("DB_USER", "relay")
	t.Setenv("DB_PASS", "hunter2")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("DB_NAME", "hookrelay")

	cfg := FromEnv()
	want := "postgres://relay:hunter2@db:5433/hookrelay?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
