package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // NSQ topic for async delivery tasks
	DrainTopic      string // NSQ topic for observability drain batches
	WorkerChannel   string // NSQ channel name for workers
}

type Redis struct {
	URL string // e.g. redis://redis:6379/0
}

type Webhook struct {
	SiteDomain  string        // domain stamped onto every outbound delivery
	Timeout     time.Duration // async transport timeout
	SyncTimeout time.Duration // sync transport timeout (shorter)
	SigningKey  string        // PEM RSA private key for secretless webhooks, optional
}

type Retry struct {
	BaseBackoff time.Duration // backoff = BaseBackoff * 2^retryCount
	MaxRetries  int
}

type Observability struct {
	BatchSize    int
	ReportPeriod time.Duration
	BufferPrefix string
}

type Config struct {
	AppName       string
	OpsPort       string // worker health/metrics listen address, e.g. :8082
	DB            DB
	NSQ           NSQ
	Redis         Redis
	Webhook       Webhook
	Retry         Retry
	Observability Observability
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "hookrelay"),
		OpsPort: getenv("OPS_PORT", ":8082"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "hookrelay"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			DrainTopic:      getenv("NSQ_DRAIN_TOPIC", "observability_batches"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Redis: Redis{
			URL: getenv("REDIS_URL", "redis://redis:6379/0"),
		},
		Webhook: Webhook{
			SiteDomain:  getenv("SITE_DOMAIN", "shop.cartloom.local"),
			Timeout:     getenvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			SyncTimeout: getenvDuration("WEBHOOK_SYNC_TIMEOUT", 5*time.Second),
			SigningKey:  getenv("WEBHOOK_SIGNING_KEY", ""),
		},
		Retry: Retry{
			BaseBackoff: getenvDuration("RETRY_BASE_BACKOFF", 10*time.Second),
			MaxRetries:  getenvInt("MAX_RETRIES", 5),
		},
		Observability: Observability{
			BatchSize:    getenvInt("OBSERVABILITY_BATCH_SIZE", 100),
			ReportPeriod: getenvDuration("OBSERVABILITY_REPORT_PERIOD", 20*time.Second),
			BufferPrefix: getenv("OBSERVABILITY_BUFFER_PREFIX", "observability:buffer"),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
