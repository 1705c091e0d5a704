package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"APP_ENV", "PORT", "DB_PATH", "LOG_LEVEL", "LOG_FORMAT", "CORS_ALLOWED_ORIGINS",
	"RETENTION_DAYS", "RETENTION_INTERVAL", "REPORT_WORKERS", "METRICS_NAMESPACE",
}

// cleanEnv clears every key so the host environment does not leak in.
func cleanEnv(overrides map[string]string) map[string]string {
	env := make(map[string]string, len(allKeys))
	for _, k := range allKeys {
		env[k] = ""
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadForTests(cleanEnv(nil))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, ":8080", cfg.HTTPAddr())
	assert.Equal(t, "settlement.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 90*24*time.Hour, cfg.RetainFor())
	assert.Equal(t, time.Hour, cfg.RetentionInterval)
	assert.Equal(t, 4, cfg.ReportWorkers)
	assert.Equal(t, "settlement", cfg.MetricsNamespace)
	assert.NotEmpty(t, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := LoadForTests(cleanEnv(map[string]string{
		"APP_ENV":              "production",
		"PORT":                 "9090",
		"DB_PATH":              ":memory:",
		"LOG_FORMAT":           "console",
		"CORS_ALLOWED_ORIGINS": "https://a.example, https://b.example ,",
		"RETENTION_DAYS":       "0",
		"RETENTION_INTERVAL":   "15m",
		"REPORT_WORKERS":       "8",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, ":9090", cfg.HTTPAddr())
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, time.Duration(0), cfg.RetainFor())
	assert.Equal(t, 15*time.Minute, cfg.RetentionInterval)
	assert.Equal(t, 8, cfg.ReportWorkers)
}

func TestLoad_LogFormatFollowsEnvironment(t *testing.T) {
	// GIVEN: production without an explicit LOG_FORMAT
	cfg, err := LoadForTests(cleanEnv(map[string]string{"APP_ENV": "Production"}))
	require.NoError(t, err)

	// THEN: logs are JSON for the collectors
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "json", cfg.LogFormat)

	// WHEN: LOG_FORMAT is set explicitly it wins
	cfg, err = LoadForTests(cleanEnv(map[string]string{"APP_ENV": "production", "LOG_FORMAT": "console"}))
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"port not a number", map[string]string{"PORT": "http"}, "PORT"},
		{"port out of range", map[string]string{"PORT": "70000"}, "PORT"},
		{"negative retention", map[string]string{"RETENTION_DAYS": "-1"}, "RETENTION_DAYS"},
		{"bad interval", map[string]string{"RETENTION_INTERVAL": "soon"}, "RETENTION_INTERVAL"},
		{"zero workers", map[string]string{"REPORT_WORKERS": "0"}, "REPORT_WORKERS"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadForTests(cleanEnv(tc.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
