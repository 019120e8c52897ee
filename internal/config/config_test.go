package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/studiosync.db
remote:
  base_url: http://remote.example
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Sync.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Sync.InitialDelay())
	assert.Equal(t, time.Minute, cfg.Sync.MaxDelay())
	assert.Equal(t, 2.0, cfg.Sync.BackoffFactor)
	assert.Equal(t, time.Minute, cfg.Monitor.ScanInterval())
	assert.Equal(t, 15*time.Second, cfg.Remote.Timeout())
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "studiosync", cfg.App.Name)
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("STUDIOSYNC_DB", "/tmp/from-env.db")
	path := writeConfig(t, `
database:
  path: ${STUDIOSYNC_DB}
remote:
  base_url: http://remote.example
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.db", cfg.Database.Path)
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing database path", "remote:\n  base_url: http://r\n"},
		{"missing remote url", "database:\n  path: /tmp/x.db\n"},
		{"bad backoff factor", "database:\n  path: /tmp/x.db\nremote:\n  base_url: http://r\nsync:\n  backoff_factor: 0.5\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
