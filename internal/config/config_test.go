package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every key Load reads so host settings don't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "CORS_ORIGINS", "DB_PATH", "PUBLIC_APP_URL",
		"WHATSAPP_PHONE_NUMBER_ID", "WHATSAPP_ACCESS_TOKEN", "WHATSAPP_API_BASE",
		"CODE_MAX_ATTEMPTS", "SETTLEMENT_TIMEOUT", "NOTIFY_TIMEOUT", "STRICT_REJECTION",
		"REMINDER_INTERVAL", "REMINDER_AFTER", "REMINDER_BATCH",
		"LOG_LEVEL", "LOG_FORMAT", "LOG_TIME_FORMAT", "LOG_OUTPUT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "billing.db", cfg.DBPath)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.CORSOrigins)
	assert.Equal(t, 10*time.Second, cfg.SettlementTimeout)
	assert.False(t, cfg.StrictRejection)
	assert.Equal(t, time.Hour, cfg.ReminderInterval)
	assert.Equal(t, 48*time.Hour, cfg.ReminderAfter)
	assert.Equal(t, 50, cfg.ReminderBatch)

	ec := cfg.EngineConfig()
	assert.Equal(t, "http://localhost:8080", ec.PublicURL)
	assert.Equal(t, cfg.CodeMaxAttempts, ec.MaxCodeAttempts)
	assert.Equal(t, "json", cfg.GetLoggerConfig().Format)
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("PUBLIC_APP_URL", "https://app.example.com/")
	t.Setenv("NOTIFY_TIMEOUT", "3s")
	t.Setenv("STRICT_REJECTION", "true")
	t.Setenv("REMINDER_INTERVAL", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.ReminderInterval)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "https://app.example.com", cfg.PublicAppURL)
	assert.Equal(t, 3*time.Second, cfg.NotifyTimeout)
	assert.True(t, cfg.StrictRejection)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"port not a number": {"PORT": "eighty"},
		"port out of range": {"PORT": "70000"},
		"bad duration":      {"SETTLEMENT_TIMEOUT": "soon"},
		"zero attempts":     {"CODE_MAX_ATTEMPTS": "0"},
		"token without id":  {"WHATSAPP_ACCESS_TOKEN": "tok"},
		"negative reminder": {"REMINDER_AFTER": "-1h"},
		"bad batch":         {"REMINDER_BATCH": "many"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_EnvironmentWins(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "billing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
db_path: /var/lib/billing.db
strict_rejection: "true"
`), 0o600))
	t.Setenv("PORT", "6060")

	require.NoError(t, LoadFile(path))
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 6060, cfg.Port)
	assert.Equal(t, "/var/lib/billing.db", cfg.DBPath)
	assert.True(t, cfg.StrictRejection)
}

func TestLoadFile_Errors(t *testing.T) {
	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1, 2"), 0o600))
	assert.Error(t, LoadFile(path))
}
