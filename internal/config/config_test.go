package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HTTP_ADDR", "SECRET_KEY", "TOKEN_TTL", "DATABASE_DRIVER", "DATABASE_URL",
		"CONFIDENCE_THRESHOLD", "LABELS_FILE", "STAGING_DIR", "INFERENCE_BACKEND",
		"INFERENCE_URL", "INFERENCE_GRPC_ADDR", "ONNX_MODEL_PATH", "ONNX_LIBRARY_PATH",
		"ONNX_POOL_SIZE", "CACHE_BACKEND", "REDIS_ADDR", "BOLT_PATH", "LOG_LEVEL", "ENVIRONMENT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENVIRONMENT", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, devSecret, cfg.SecretKey)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, 0.5, cfg.ConfidenceThreshold)
	assert.Equal(t, "http", cfg.InferenceBackend)
	assert.Equal(t, "none", cfg.CacheBackend)
	assert.Equal(t, 4, cfg.ONNXPoolSize)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_KEY", "s3cret")
	t.Setenv("TOKEN_TTL", "15m")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.7")
	t.Setenv("DATABASE_DRIVER", "Postgres")
	t.Setenv("INFERENCE_BACKEND", "onnx")
	t.Setenv("CACHE_BACKEND", "bolt")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.SecretKey)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 0.7, cfg.ConfidenceThreshold)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "onnx", cfg.InferenceBackend)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN_TTL", "an hour")
	t.Setenv("CONFIDENCE_THRESHOLD", "high")
	t.Setenv("ONNX_POOL_SIZE", "four")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "TOKEN_TTL")
	assert.ErrorContains(t, err, "CONFIDENCE_THRESHOLD")
	assert.ErrorContains(t, err, "ONNX_POOL_SIZE")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.SecretKey, "production must not fall back to a built-in secret")

	err = cfg.Validate()
	assert.ErrorContains(t, err, "SECRET_KEY")

	cfg.SecretKey = "x"
	cfg.TokenTTL = 0
	cfg.ConfidenceThreshold = 1
	cfg.InferenceBackend = "carrier-pigeon"
	cfg.CacheBackend = "memcached"
	cfg.DatabaseDriver = "mysql"
	err = cfg.Validate()
	for _, want := range []string{"TOKEN_TTL", "CONFIDENCE_THRESHOLD", "INFERENCE_BACKEND", "CACHE_BACKEND", "DATABASE_DRIVER"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidateRejectsNaNThreshold(t *testing.T) {
	clearEnv(t)
	t.Setenv("SECRET_KEY", "x")
	t.Setenv("CONFIDENCE_THRESHOLD", "NaN")

	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "CONFIDENCE_THRESHOLD")
}
