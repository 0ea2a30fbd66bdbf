package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	keyPath := filepath.Join(t.TempDir(), "command.pub")
	require.NoError(t, os.WriteFile(keyPath, []byte("pem"), 0o644))
	return &Config{
		ServerURL:     "https://api.studiosync.test",
		WebOrigin:     "https://app.studiosync.test",
		PublicKeyPath: keyPath,
		ProjectBucket: "projects",
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, DefaultStatePath, cfg.StatePath)
}

func TestValidateKeepsExplicitValues(t *testing.T) {
	cfg := validConfig(t)
	cfg.HTTPAddr = "127.0.0.1:6000"
	cfg.StatePath = "/tmp/state.db"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:6000", cfg.HTTPAddr)
	assert.Equal(t, "/tmp/state.db", cfg.StatePath)
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cfg := validConfig(t)
	cfg.ServerURL = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig(t)
	cfg.WebOrigin = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig(t)
	cfg.PublicKeyPath = ""
	assert.Error(t, cfg.Validate())

	cfg = validConfig(t)
	cfg.ProjectBucket = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsMissingKeyFile(t *testing.T) {
	cfg := validConfig(t)
	cfg.PublicKeyPath = filepath.Join(t.TempDir(), "nope.pub")
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public key not found")
}
