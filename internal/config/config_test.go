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
	for _, k := range []string{
		"TZ", "FORECAST_MONTHS", "ACTUAL_PATH", "ACTUAL_SYNC_ID",
		"ACTUALCAL_LISTEN", "ACTUALCAL_LOG_LEVEL", "ACTUALCAL_REFRESH",
		"ACTUALCAL_SOURCE", "ACTUALCAL_SOURCE_URL", "ACTUALCAL_SOURCE_PATH",
	} {
		t.Setenv(k, "")
	}
}

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)
	assert.Equal(t, 3, cfg.ForecastMonths)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("timezone: Europe/Berlin\nsource:\n  kind: FILE\n  path: /data/schedules.json\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, SourceFile, cfg.Source.Kind)
	assert.Equal(t, "/data/schedules.json", cfg.Source.Path)
	assert.Equal(t, defaultForecastMonths, cfg.ForecastMonths)
	assert.Equal(t, defaultMaxOccurrences, cfg.MaxOccurrences)
	assert.Equal(t, "$", cfg.Amount.Symbol)
	assert.Equal(t, 2, cfg.Amount.Decimals)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(mapLookup(map[string]string{
		"TZ":               "Asia/Seoul",
		"FORECAST_MONTHS":  "6",
		"ACTUAL_PATH":      "/var/lib/actual",
		"ACTUAL_SYNC_ID":   "abc-123",
		"ACTUALCAL_LISTEN": ":9000",
	}))
	require.NoError(t, err)

	assert.Equal(t, "Asia/Seoul", cfg.Timezone)
	assert.Equal(t, 6, cfg.ForecastMonths)
	assert.Equal(t, "/var/lib/actual", cfg.Source.CacheDir)
	assert.Equal(t, filepath.Join("/var/lib/actual", "db.sqlite"), cfg.Source.Path)
	assert.Equal(t, "abc-123", cfg.Source.SyncID)
	assert.Equal(t, ":9000", cfg.Listen)
}

func TestApplyEnv_SourceOverride(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(mapLookup(map[string]string{
		"ACTUALCAL_SOURCE":     "http",
		"ACTUALCAL_SOURCE_URL": "https://budget.example.com/schedules",
		"ACTUAL_PATH":          "/cache",
	}))
	require.NoError(t, err)

	assert.Equal(t, SourceHTTP, cfg.Source.Kind)
	assert.Equal(t, "https://budget.example.com/schedules", cfg.Source.URL)
	assert.Equal(t, "/cache", cfg.Source.CacheDir)
}

func TestApplyEnv_BadForecastMonths(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(mapLookup(map[string]string{"FORECAST_MONTHS": "three"}))
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.Timezone = "UTC"
	assert.Equal(t, "UTC", cfg.Location().String())
}
