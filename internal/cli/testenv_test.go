package cli

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSecret = "cli-test-secret"

// setTestEnv points every backend at throwaway local resources.
func setTestEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "weaponid.db")

	t.Setenv("SECRET_KEY", testSecret)
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("DATABASE_URL", dbPath)
	t.Setenv("STAGING_DIR", filepath.Join(dir, "staging"))
	t.Setenv("CACHE_BACKEND", "none")
	t.Setenv("INFERENCE_BACKEND", "http")
	t.Setenv("INFERENCE_URL", "http://127.0.0.1:1/predict")
	t.Setenv("TOKEN_TTL", "1h")
	return dbPath
}

func runCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := runCommand(t, stdin, args...)
	require.NoError(t, err)
	return out
}
