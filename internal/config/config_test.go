package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "PG_DSN", "HTTP_ADDR", "AUTH_JWT_SECRET", "JWT_SECRET", "AUTH_DISABLED",
		"ALLOCATION_CONFIG", "ALLOCATION_SCHEDULE", "ALLOCATION_COMPANIES", "ALLOCATION_JOB_TIMEOUT", "OA_CHARGES_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PG_DSN", "postgres://localhost/alloc")
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("ALLOCATION_SCHEDULE", "0 0 2 1 * *")
	t.Setenv("ALLOCATION_COMPANIES", "GEN1, ,GEN2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/alloc", cfg.DatabaseURL)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"GEN1", "GEN2"}, cfg.File.Schedule.Companies)
	assert.Equal(t, 5*time.Minute, cfg.File.Schedule.Timeout)
	assert.True(t, cfg.File.Schedule.Enabled())
}

func TestLoadRequiresDatabaseAndSecret(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/alloc")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("AUTH_DISABLED", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.File.Schedule.Enabled())
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "allocation.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
schedule:
  cron: "0 30 1 1 * *"
  companies: [GEN1, GEN2]
  timeout: 90s
oa_charges: /etc/allocation/oa.yaml
`), 0o600))
	t.Setenv("ALLOCATION_CONFIG", path)
	t.Setenv("DATABASE_URL", "postgres://localhost/alloc")
	t.Setenv("AUTH_DISABLED", "1")
	t.Setenv("ALLOCATION_COMPANIES", "IGNORED")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0 30 1 1 * *", cfg.File.Schedule.Cron)
	assert.Equal(t, []string{"GEN1", "GEN2"}, cfg.File.Schedule.Companies)
	assert.Equal(t, 90*time.Second, cfg.File.Schedule.Timeout)
	assert.Equal(t, "/etc/allocation/oa.yaml", cfg.File.OACharges)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("schedule: [\n"), 0o600))
	_, err = LoadFile(path)
	assert.Error(t, err)
}

func TestValidateScheduleNeedsCompanies(t *testing.T) {
	cfg := &Config{DatabaseURL: "x", AuthDisabled: true, File: FileConfig{Schedule: ScheduleConfig{Cron: "0 0 2 1 * *"}}}
	assert.Error(t, cfg.Validate())
}
