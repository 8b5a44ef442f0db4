// Package config resolves runtime settings from the environment once at startup.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/example/weaponid/internal/detection"
	"github.com/example/weaponid/internal/inference"
	"github.com/example/weaponid/internal/token"
)

const devSecret = "dev-secret"

// Config holds every setting the server needs.
type Config struct {
	HTTPAddr string

	SecretKey string
	TokenTTL  time.Duration

	DatabaseDriver string
	DatabaseURL    string

	ConfidenceThreshold float64
	LabelsFile          string
	StagingDir          string

	InferenceBackend  string
	InferenceURL      string
	InferenceGRPCAddr string
	ONNXModelPath     string
	ONNXLibraryPath   string
	ONNXPoolSize      int

	CacheBackend string
	RedisAddr    string
	BoltPath     string

	LogLevel    string
	Environment string
}

// Load reads the environment. Malformed numeric values are reported as errors
// rather than silently replaced with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		SecretKey:         os.Getenv("SECRET_KEY"),
		DatabaseDriver:    strings.ToLower(getEnv("DATABASE_DRIVER", "sqlite")),
		DatabaseURL:       getEnv("DATABASE_URL", "weaponid.db"),
		LabelsFile:        os.Getenv("LABELS_FILE"),
		StagingDir:        getEnv("STAGING_DIR", filepath.Join(os.TempDir(), "weaponid-uploads")),
		InferenceBackend:  strings.ToLower(getEnv("INFERENCE_BACKEND", inference.BackendHTTP)),
		InferenceURL:      getEnv("INFERENCE_URL", "http://localhost:5000/predict"),
		InferenceGRPCAddr: getEnv("INFERENCE_GRPC_ADDR", "localhost:50051"),
		ONNXModelPath:     getEnv("ONNX_MODEL_PATH", "models/best.onnx"),
		ONNXLibraryPath:   os.Getenv("ONNX_LIBRARY_PATH"),
		CacheBackend:      strings.ToLower(getEnv("CACHE_BACKEND", "none")),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		BoltPath:          getEnv("BOLT_PATH", "cache.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Environment:       getEnv("ENVIRONMENT", "production"),
	}

	var errs []error

	ttl, err := time.ParseDuration(getEnv("TOKEN_TTL", token.DefaultTTL.String()))
	if err != nil {
		errs = append(errs, fmt.Errorf("TOKEN_TTL: %w", err))
	}
	cfg.TokenTTL = ttl

	threshold, err := strconv.ParseFloat(getEnv("CONFIDENCE_THRESHOLD", strconv.FormatFloat(detection.DefaultThreshold, 'f', -1, 64)), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("CONFIDENCE_THRESHOLD: %w", err))
	}
	cfg.ConfidenceThreshold = threshold

	poolSize, err := strconv.Atoi(getEnv("ONNX_POOL_SIZE", strconv.Itoa(inference.DefaultPoolSize)))
	if err != nil {
		errs = append(errs, fmt.Errorf("ONNX_POOL_SIZE: %w", err))
	}
	cfg.ONNXPoolSize = poolSize

	if cfg.SecretKey == "" && cfg.IsDevelopment() {
		cfg.SecretKey = devSecret
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsDevelopment reports whether ENVIRONMENT is "development".
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SecretKey == "" {
		errs = append(errs, errors.New("SECRET_KEY is required outside development"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold < 0 || c.ConfidenceThreshold >= 1 {
		errs = append(errs, errors.New("CONFIDENCE_THRESHOLD must be in [0,1)"))
	}
	switch c.DatabaseDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}
	switch c.InferenceBackend {
	case inference.BackendHTTP, inference.BackendGRPC, inference.BackendONNX:
	default:
		errs = append(errs, fmt.Errorf("INFERENCE_BACKEND %q is not supported", c.InferenceBackend))
	}
	switch c.CacheBackend {
	case "redis", "bolt", "none":
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND %q is not supported", c.CacheBackend))
	}
	if c.ONNXPoolSize <= 0 {
		errs = append(errs, errors.New("ONNX_POOL_SIZE must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
