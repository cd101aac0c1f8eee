package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MWI_BACKEND_URL", "http://127.0.0.1:8888")
}

func TestLoad_AllRequiredVarsSet(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8888", cfg.BackendURL)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MWI_BACKEND_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, "MWI_BACKEND_URL is required", err.Error())
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.StatusPollInterval)
	assert.Equal(t, time.Second, cfg.StatusPollFastInterval)
	assert.Equal(t, 5, cfg.ConnectionErrorThreshold)
	assert.Equal(t, 10*time.Second, cfg.BackendTimeout)
	assert.Equal(t, 1000, cfg.MaxWebSocketConnections)
	assert.Equal(t, 10.0, cfg.ControlRateLimit)
	assert.Equal(t, 10, cfg.MaxStreamsPerIP)
	assert.Equal(t, 2.0, cfg.StreamConnectRate)
	assert.Empty(t, cfg.AllowedOrigin)
}

func TestLoad_BasePathTrailingSlash(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MWI_BASE_PATH", "/matlab/default/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/matlab/default", cfg.BasePath)

	t.Setenv("MWI_BASE_PATH", "/")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.BasePath)
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("MWI_BASE_PATH", "/matlab")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("STATUS_POLL_INTERVAL", "10s")
	t.Setenv("STATUS_POLL_FAST_INTERVAL", "500ms")
	t.Setenv("CONNECTION_ERROR_THRESHOLD", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.AppEnv)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/matlab", cfg.BasePath)
	assert.Equal(t, "redis://localhost:6379", cfg.RedisURL)
	assert.Equal(t, 10*time.Second, cfg.StatusPollInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.StatusPollFastInterval)
	assert.Equal(t, 3, cfg.ConnectionErrorThreshold)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"backend scheme", "MWI_BACKEND_URL", "ftp://host", "must use http or https"},
		{"backend host", "MWI_BACKEND_URL", "http://", "must include a host"},
		{"base path", "MWI_BASE_PATH", "matlab", "MWI_BASE_PATH must start with /"},
		{"fast slower than normal", "STATUS_POLL_FAST_INTERVAL", "30s", "must not exceed"},
		{"zero threshold", "CONNECTION_ERROR_THRESHOLD", "0", "at least 1"},
		{"zero timeout", "BACKEND_TIMEOUT", "0s", "BACKEND_TIMEOUT must be positive"},
		{"zero rate", "CONTROL_RATE_LIMIT", "0", "CONTROL_RATE_LIMIT must be positive"},
		{"zero streams per ip", "MAX_STREAMS_PER_IP", "0", "MAX_STREAMS_PER_IP and STREAM_CONNECT_RATE must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
