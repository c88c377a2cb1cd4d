package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "lichen", cfg.AppName)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "db/pg", cfg.DatabaseMigrationFolderPath)
	assert.Equal(t, 100, cfg.JobPageSize)
	assert.Equal(t, 10*time.Minute, cfg.JobLockTTL)
	assert.Equal(t, "Z MYC", cfg.AlternateAccessionPrefix)
	assert.InDelta(t, 5.0, cfg.EasyDBRequestsPerSecond, 0.0001)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("JOB_PAGE_SIZE", "250")
	t.Setenv("EASYDB_URL", "https://fungarium.example.org")
	t.Setenv("JOB_RETENTION", "48h")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DatabaseHost)
	assert.Equal(t, 250, cfg.JobPageSize)
	assert.Equal(t, 48*time.Hour, cfg.JobRetention)
	assert.Equal(t, "https://fungarium.example.org", cfg.EasyDBDetailURL, "detail url falls back to the instance url")
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("EASYDB_AUTH_MODE=oauth2\nEASYDB_LOGIN=importer\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("EASYDB_AUTH_MODE")
		os.Unsetenv("EASYDB_LOGIN")
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "oauth2", cfg.EasyDBAuthMode)
	assert.Equal(t, "importer", cfg.EasyDBLogin)
}

func TestConfig_TagsAgree(t *testing.T) {
	typ := reflect.TypeOf(Config{})
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name, ok := field.Tag.Lookup("env")
		require.True(t, ok, "%s has no env tag", field.Name)
		_, ok = field.Tag.Lookup("env-default")
		assert.True(t, ok, "%s has no env-default tag", field.Name)
		assert.Equal(t, strings.ToLower(name), field.Tag.Get("mapstructure"), field.Name)
	}
}
