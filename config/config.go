package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "schoolchat"
	// DefaultServerURL is the school backend used when no override exists.
	DefaultServerURL = "https://api.learnerapp.site"
	// DefaultReconnectDelaySeconds is the fixed delay before the single
	// reconnect attempt after an abnormal socket closure.
	DefaultReconnectDelaySeconds = 3
	// DefaultHistoryTimeoutSeconds bounds one conversation backlog fetch.
	DefaultHistoryTimeoutSeconds = 15
	// configFileName is the persisted configuration file.
	configFileName = "config.json"

	// EnvDataDir overrides the data directory location.
	EnvDataDir = "SCHOOLCHAT_DATA_DIR"
	// EnvServerURL overrides the persisted server URL.
	EnvServerURL = "SCHOOLCHAT_SERVER_URL"
	// EnvAccessToken supplies the bearer token. Tokens are never persisted.
	EnvAccessToken = "SCHOOLCHAT_ACCESS_TOKEN"
)

// ClientConfig contains persistent local client settings.
type ClientConfig struct {
	SessionID             string `json:"session_id"`
	ServerURL             string `json:"server_url"`
	ReconnectDelaySeconds int    `json:"reconnect_delay_seconds"`
	HistoryTimeoutSeconds int    `json:"history_timeout_seconds"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If SCHOOLCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(EnvDataDir); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns both.
func LoadOrCreate() (*ClientConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("create data directory %q: %w", dataDir, err)
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

// EffectiveServerURL returns the server base URL, honoring the env override.
func (c *ClientConfig) EffectiveServerURL() string {
	if override := os.Getenv(EnvServerURL); override != "" {
		return strings.TrimRight(override, "/")
	}
	return strings.TrimRight(c.ServerURL, "/")
}

// WebSocketURL derives the ws(s) base URL from the effective server URL.
func (c *ClientConfig) WebSocketURL() (string, error) {
	parsed, err := url.Parse(c.EffectiveServerURL())
	if err != nil {
		return "", fmt.Errorf("parse server URL: %w", err)
	}

	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	case "http":
		parsed.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", parsed.Scheme)
	}

	parsed.Path = ""
	return parsed.String(), nil
}

// AccessToken returns the externally supplied bearer token, if any.
func AccessToken() string {
	return os.Getenv(EnvAccessToken)
}

func defaultConfig() *ClientConfig {
	return &ClientConfig{
		SessionID:             uuid.NewString(),
		ServerURL:             DefaultServerURL,
		ReconnectDelaySeconds: DefaultReconnectDelaySeconds,
		HistoryTimeoutSeconds: DefaultHistoryTimeoutSeconds,
	}
}

func normalizeDefaults(cfg *ClientConfig) bool {
	updated := false

	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
		updated = true
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
		updated = true
	}
	if cfg.ReconnectDelaySeconds <= 0 {
		cfg.ReconnectDelaySeconds = DefaultReconnectDelaySeconds
		updated = true
	}
	if cfg.HistoryTimeoutSeconds <= 0 {
		cfg.HistoryTimeoutSeconds = DefaultHistoryTimeoutSeconds
		updated = true
	}

	return updated
}
