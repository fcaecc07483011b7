// Package config reads server settings from the environment.
// A .env file, when present, is loaded by the command before Load runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/leadsbox/billing-engine/billing"
	"github.com/leadsbox/billing-engine/internal/logger"
)

type Config struct {
	// HTTP
	Port        int
	CORSOrigins []string

	// Storage
	DBPath string

	// Links in buyer messages, e.g. https://app.leadsbox.app
	PublicAppURL string

	// WhatsApp Cloud API. Empty token means messages are only logged.
	WhatsAppPhoneNumberID string
	WhatsAppAccessToken   string
	WhatsAppAPIBase       string

	// Engine
	CodeMaxAttempts   int
	SettlementTimeout time.Duration
	NotifyTimeout     time.Duration
	StrictRejection   bool

	// Payment reminders. A zero interval disables the scheduler.
	ReminderInterval time.Duration
	ReminderAfter    time.Duration
	ReminderBatch    int

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := strconv.Atoi(getEnv(key, strconv.Itoa(def)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := time.ParseDuration(getEnv(key, def.String()))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		return v
	}
	boolVar := func(key string, def bool) bool {
		v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(def)))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
		return v
	}

	config := &Config{
		Port:                  intVar("PORT", 8080),
		CORSOrigins:           splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		DBPath:                getEnv("DB_PATH", "billing.db"),
		PublicAppURL:          strings.TrimRight(getEnv("PUBLIC_APP_URL", "http://localhost:8080"), "/"),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppAPIBase:       getEnv("WHATSAPP_API_BASE", "https://graph.facebook.com/v20.0"),
		CodeMaxAttempts:       intVar("CODE_MAX_ATTEMPTS", billing.DefaultMaxAttempts),
		SettlementTimeout:     durVar("SETTLEMENT_TIMEOUT", billing.DefaultSettlementTimeout),
		NotifyTimeout:         durVar("NOTIFY_TIMEOUT", billing.DefaultNotifyTimeout),
		StrictRejection:       boolVar("STRICT_REJECTION", false),
		ReminderInterval:      durVar("REMINDER_INTERVAL", time.Hour),
		ReminderAfter:         durVar("REMINDER_AFTER", 48*time.Hour),
		ReminderBatch:         intVar("REMINDER_BATCH", billing.DefaultReminderBatch),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", time.RFC3339),
		LogOutput:             getEnv("LOG_OUTPUT", "stdout"),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.CodeMaxAttempts < 1 {
		return fmt.Errorf("CODE_MAX_ATTEMPTS must be at least 1")
	}
	if c.SettlementTimeout <= 0 || c.NotifyTimeout <= 0 {
		return fmt.Errorf("SETTLEMENT_TIMEOUT and NOTIFY_TIMEOUT must be positive")
	}
	if c.ReminderInterval < 0 || c.ReminderAfter < 0 {
		return fmt.Errorf("REMINDER_INTERVAL and REMINDER_AFTER must not be negative")
	}
	if c.WhatsAppAccessToken != "" && c.WhatsAppPhoneNumberID == "" {
		return fmt.Errorf("WHATSAPP_PHONE_NUMBER_ID is required when WHATSAPP_ACCESS_TOKEN is set")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// EngineConfig maps the settings onto billing.Config.
func (c *Config) EngineConfig() billing.Config {
	return billing.Config{
		MaxCodeAttempts:   c.CodeMaxAttempts,
		SettlementTimeout: c.SettlementTimeout,
		NotifyTimeout:     c.NotifyTimeout,
		PublicURL:         c.PublicAppURL,
		StrictRejection:   c.StrictRejection,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
