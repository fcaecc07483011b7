package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	prev, had := os.LookupEnv(key)
	require.NoError(t, os.Unsetenv(key))
	t.Cleanup(func() {
		if had {
			os.Setenv(key, prev)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoadConfig_Precedence(t *testing.T) {
	// GIVEN: The same keys in .env, a config file and the environment
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })

	unsetEnv(t, "DB_PATH")
	unsetEnv(t, "PUBLIC_APP_URL")
	t.Setenv("PORT", "9200")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("DB_PATH=from-dotenv.db\nPORT=9000\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "billing.yaml"),
		[]byte("db_path: from-file.db\npublic_app_url: http://file.test\nport: \"9100\"\n"), 0o600))

	configFile = filepath.Join(dir, "billing.yaml")
	t.Cleanup(func() { configFile, portFlag, dbFlag = "", 0, "" })

	// WHEN: Loading
	cfg, err := loadConfig()
	require.NoError(t, err)

	// THEN: Environment beats .env, .env beats the file, the file beats defaults
	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, "from-dotenv.db", cfg.DBPath)
	assert.Equal(t, "http://file.test", cfg.PublicAppURL)

	// AND: Flags beat everything
	portFlag, dbFlag = 9300, ":memory:"
	cfg, err = loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
}
