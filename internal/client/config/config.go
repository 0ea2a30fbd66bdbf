// Package config holds the daemon configuration and its on-disk locations.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/studiosync/studiosync/internal/utils"
)

var (
	appDataDir = utils.AppDataDir("StudioSync")

	DefaultConfigPath  = filepath.Join(appDataDir, "config.json")
	DefaultStatePath   = filepath.Join(appDataDir, "state.db")
	DefaultLogFilePath = filepath.Join(appDataDir, "logs", "client.log")

	// DefaultHTTPAddr is the loopback command-plane address the companion
	// web UI expects.
	DefaultHTTPAddr = "127.0.0.1:5000"
)

// AppDataDir returns the per-OS application data directory.
func AppDataDir() string {
	return appDataDir
}

// Config is the static daemon configuration, loaded from the JSON config
// file with flag and STUDIOSYNC_* env overrides. Durable runtime settings
// (source dir, worker width, tokens) live in the state store instead.
type Config struct {
	// Path is the config file the values were loaded from.
	Path string `json:"-"`

	// ServerURL is the metadata-service base URL.
	ServerURL string `json:"server_url"`

	// WebOrigin is the companion web UI origin. Command-plane requests
	// must carry it as Referer, and CORS is restricted to it.
	WebOrigin string `json:"web_origin"`

	// PublicKeyPath points at the RS256 public key that signed command
	// payloads must verify against.
	PublicKeyPath string `json:"public_key_path"`

	// HTTPAddr is the loopback command-plane listen address.
	HTTPAddr string `json:"http_addr"`

	// StatePath is the sqlite state-store location.
	StatePath string `json:"state_path"`

	// ProjectBucket holds project content, AudioBucket ad-hoc renders.
	ProjectBucket string `json:"project_bucket"`
	AudioBucket   string `json:"audio_bucket"`

	// S3Region and S3Endpoint configure the object-store client. Endpoint
	// is only set for S3-compatible stores.
	S3Region   string `json:"s3_region"`
	S3Endpoint string `json:"s3_endpoint,omitempty"`

	// Debug enables verbose logging and re-raises handler panics.
	Debug bool `json:"debug"`
}

func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return fmt.Errorf("invalid server url: %w", err)
	}

	if c.WebOrigin == "" {
		return errors.New("web origin is required")
	}
	if _, err := url.Parse(c.WebOrigin); err != nil {
		return fmt.Errorf("invalid web origin: %w", err)
	}

	if c.PublicKeyPath == "" {
		return errors.New("public key path is required")
	}
	if !utils.FileExists(c.PublicKeyPath) {
		return fmt.Errorf("public key not found: %s", c.PublicKeyPath)
	}

	if c.ProjectBucket == "" {
		return errors.New("project bucket is required")
	}

	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.StatePath == "" {
		c.StatePath = DefaultStatePath
	}

	return nil
}
