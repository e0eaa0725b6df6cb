package app

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	// HTTPAddr — адрес внешнего HTTP-сервера (webhook endpoint).
	HTTPAddr string
	// MetricsAddr — адрес служебного сервера (/metrics, /healthz).
	MetricsAddr string

	// StorageDriver выбирает хранилище: memory или postgres.
	StorageDriver string
	PostgresDSN   string

	// KafkaBrokers — список брокеров через запятую; пустой отключает Kafka.
	KafkaBrokers string
	OrderTopic   string
	PaymentTopic string
	DLQTopic     string

	// RazorpayKeyID/KeySecret/WebhookSecret — ключи шлюза.
	// Пустой KeyID включает мок шлюза (dev-режим).
	RazorpayBaseURL       string
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string

	OutboxPollInterval   time.Duration
	WebhookSweepInterval time.Duration
	WebhookMaxBodyBytes  int
}

// DefaultConfig возвращает конфигурацию dev-режима:
// in-memory хранилище, мок шлюза, Kafka выключен.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:             ":8080",
		MetricsAddr:          ":9090",
		StorageDriver:        StorageMemory,
		OutboxPollInterval:   time.Second,
		WebhookSweepInterval: 30 * time.Second,
		WebhookMaxBodyBytes:  1 << 20,
	}
}

// FromEnv накладывает переменные окружения SHOPCORE_* на конфигурацию.
func FromEnv(cfg Config) Config {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&cfg.HTTPAddr, "SHOPCORE_HTTP_ADDR")
	setString(&cfg.MetricsAddr, "SHOPCORE_METRICS_ADDR")
	setString(&cfg.StorageDriver, "SHOPCORE_STORAGE_DRIVER")
	setString(&cfg.PostgresDSN, "SHOPCORE_POSTGRES_DSN")
	setString(&cfg.KafkaBrokers, "KAFKA_BROKERS")
	setString(&cfg.OrderTopic, "SHOPCORE_ORDER_TOPIC")
	setString(&cfg.PaymentTopic, "SHOPCORE_PAYMENT_TOPIC")
	setString(&cfg.DLQTopic, "SHOPCORE_DLQ_TOPIC")
	setString(&cfg.RazorpayBaseURL, "SHOPCORE_RAZORPAY_BASE_URL")
	setString(&cfg.RazorpayKeyID, "SHOPCORE_RAZORPAY_KEY_ID")
	setString(&cfg.RazorpayKeySecret, "SHOPCORE_RAZORPAY_KEY_SECRET")
	setString(&cfg.RazorpayWebhookSecret, "SHOPCORE_RAZORPAY_WEBHOOK_SECRET")

	if v := os.Getenv("SHOPCORE_OUTBOX_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.OutboxPollInterval = d
		}
	}
	if v := os.Getenv("SHOPCORE_WEBHOOK_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.WebhookSweepInterval = d
		}
	}
	if v := os.Getenv("SHOPCORE_WEBHOOK_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WebhookMaxBodyBytes = n
		}
	}

	return cfg
}

// Validate проверяет согласованность конфигурации до старта.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("storage driver %q requires SHOPCORE_POSTGRES_DSN", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}

	if c.RazorpayKeyID != "" && (c.RazorpayKeySecret == "" || c.RazorpayWebhookSecret == "") {
		return fmt.Errorf("razorpay key id is set but key secret or webhook secret is empty")
	}
	return nil
}
