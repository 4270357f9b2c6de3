package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the client-side settings for the chat SDK.
type Config struct {
	// ServerURL is the base URL of the intranet REST API.
	ServerURL string `yaml:"server_url"`
	// WSURL is the base URL for websocket channels. Derived from ServerURL
	// when empty (http -> ws, https -> wss).
	WSURL string `yaml:"ws_url"`
	// HomeDir is the directory where the client stores local state
	// (key store, optional config file).
	HomeDir string `yaml:"-"`
	// LogLevel is the logging verbosity (debug|info|warn|error).
	LogLevel string `yaml:"log_level"`
	// Debug enables verbose logging regardless of LogLevel.
	Debug bool `yaml:"debug"`
}

// Load loads configuration from environment variables and defaults.
//
// An optional YAML file at $BOGDOL_HOME_DIR/config.yaml fills in any field the
// environment left unset. The home directory is created if missing.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	bogdolHome := os.Getenv("BOGDOL_HOME_DIR")
	if bogdolHome == "" {
		bogdolHome = filepath.Join(homeDir, ".bogdol")
	}
	if err := os.MkdirAll(bogdolHome, 0700); err != nil {
		return nil, fmt.Errorf("failed to create home dir: %w", err)
	}

	cfg := &Config{
		ServerURL: os.Getenv("BOGDOL_SERVER_URL"),
		WSURL:     os.Getenv("BOGDOL_WS_URL"),
		HomeDir:   bogdolHome,
		LogLevel:  os.Getenv("BOGDOL_LOG_LEVEL"),
		Debug:     os.Getenv("BOGDOL_DEBUG") == "true" || os.Getenv("BOGDOL_DEBUG") == "1",
	}

	if err := cfg.fillFromFile(filepath.Join(bogdolHome, "config.yaml")); err != nil {
		return nil, err
	}

	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8000"
	}
	cfg.ServerURL = strings.TrimRight(cfg.ServerURL, "/")

	if cfg.WSURL == "" {
		derived, err := deriveWSURL(cfg.ServerURL)
		if err != nil {
			return nil, err
		}
		cfg.WSURL = derived
	}
	cfg.WSURL = strings.TrimRight(cfg.WSURL, "/")

	return cfg, nil
}

// fillFromFile loads the optional YAML config file and fills unset fields.
func (c *Config) fillFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if c.ServerURL == "" {
		c.ServerURL = file.ServerURL
	}
	if c.WSURL == "" {
		c.WSURL = file.WSURL
	}
	if c.LogLevel == "" {
		c.LogLevel = file.LogLevel
	}
	if !c.Debug {
		c.Debug = file.Debug
	}
	return nil
}

func deriveWSURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}
