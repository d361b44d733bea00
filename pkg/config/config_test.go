package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	oerrors "github.com/porthorian/sessionguard/pkg/errors"
	"github.com/porthorian/sessionguard/pkg/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessionguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, Default(), cfg)
	assert.Equal(t, retry.DefaultPolicy(), cfg.Retry.Policy())
	assert.Equal(t, AuditBackendNone, cfg.Audit.Backend)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
credentials:
  url: https://login.example.com/services/Soap/u/42.0
  username: ops@example.com
  api_version: "42.0"
retry:
  budget: 6
  initial_interval: 250ms
  max_interval: 2s
audit:
  backend: MEMORY
  fingerprint_key: audit-key
logging:
  level: DEBUG
  format: json
`)
	t.Setenv("SESSIONGUARD_CREDENTIALS_PASSWORD", "hunter2")
	t.Setenv("SESSIONGUARD_CREDENTIALS_TOKEN", "TOKEN")
	t.Setenv("SESSIONGUARD_RETRY_BUDGET", "3")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Retry.Budget)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 2*time.Second, cfg.Retry.MaxInterval)
	assert.Equal(t, retry.DefaultMultiplier, cfg.Retry.Multiplier)
	assert.Equal(t, AuditBackendMemory, cfg.Audit.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	creds, err := cfg.Credentials.Credentials()
	require.NoError(t, err)
	assert.Equal(t, "https://login.example.com/services/Soap/u/42.0/", creds.URL())
	assert.Equal(t, "hunter2TOKEN", creds.SecurityPassword())
}

func TestLoadZeroJitterSurvivesDefaults(t *testing.T) {
	path := writeConfig(t, `
retry:
  initial_interval: 0s
  randomization_factor: 0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	p := cfg.Retry.Policy().WithDefaults()
	require.NoError(t, p.Validate())
	assert.Equal(t, 0.0, p.RandomizationFactor)
	assert.Equal(t, time.Duration(0), p.InitialInterval)
	assert.Equal(t, retry.DefaultMaxInterval, p.MaxInterval)
	assert.Equal(t, time.Duration(0), p.NewBackOff().NextBackOff())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown audit backend", content: "audit:\n  backend: redis\n"},
		{name: "postgres without dsn", content: "audit:\n  backend: postgres\n  fingerprint_key: k\n"},
		{name: "audit without fingerprint key", content: "audit:\n  backend: memory\n"},
		{name: "negative budget", content: "retry:\n  budget: -1\n"},
		{name: "max below initial", content: "retry:\n  initial_interval: 2s\n  max_interval: 1s\n"},
		{name: "bad log level", content: "logging:\n  level: trace\n"},
		{name: "metrics without textfile", content: "metrics:\n  enabled: true\n"},
		{name: "malformed url", content: "credentials:\n  url: not a url\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidArgument))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidArgument))
}

func TestIncompleteCredentials(t *testing.T) {
	cfg := Default()
	cfg.Credentials.URL = "https://login.example.com/"
	_, err := cfg.Credentials.Credentials()
	assert.True(t, oerrors.IsCode(err, oerrors.CodeInvalidArgument))
}
