// Package syncconfig reads and writes the global client configuration and
// auth state under ~/.config/polymath/.
package syncconfig

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// SyncConfig holds sync-related settings.
type SyncConfig struct {
	URL           string `json:"url"`
	Enabled       *bool  `json:"enabled,omitempty"`        // nil = default true
	ProbeInterval string `json:"probe_interval,omitempty"` // duration string, default "30s"
	MaxAttempts   *int   `json:"max_attempts,omitempty"`   // nil = default 10
}

// CaptureConfig holds voice-capture settings.
type CaptureConfig struct {
	DropDir string `json:"drop_dir,omitempty"` // watched for dropped audio files
}

// Config is the global config stored at ~/.config/polymath/config.json.
type Config struct {
	Sync    SyncConfig    `json:"sync"`
	Capture CaptureConfig `json:"capture"`
}

// AuthCredentials stores authentication state at ~/.config/polymath/auth.json.
type AuthCredentials struct {
	APIKey    string `json:"api_key"`
	ServerURL string `json:"server_url,omitempty"`
	DeviceID  string `json:"device_id"`
}

const defaultServerURL = "http://localhost:8080"

// ConfigDir returns the config directory, creating it if necessary.
// POLYMATH_CONFIG_DIR overrides the default ~/.config/polymath.
func ConfigDir() (string, error) {
	dir := os.Getenv("POLYMATH_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".config", "polymath")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// DataDir returns the local data directory (queue database, daemon lock).
// POLYMATH_DATA_DIR overrides the default ~/.local/share/polymath.
func DataDir() (string, error) {
	dir := os.Getenv("POLYMATH_DATA_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		dir = filepath.Join(home, ".local", "share", "polymath")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads the global config, returning defaults when absent.
func LoadConfig() (*Config, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfig writes the global config atomically.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(filepath.Join(dir, "config.json"), bytes.NewReader(data))
}

// LoadAuth reads auth credentials; nil when not logged in.
func LoadAuth() (*AuthCredentials, error) {
	dir, err := ConfigDir()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "auth.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var creds AuthCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveAuth writes auth credentials atomically, then tightens permissions.
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "auth.json")
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return err
	}
	return os.Chmod(path, 0600)
}

// ClearAuth removes the auth.json file.
func ClearAuth() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(dir, "auth.json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// GetServerURL returns the backend URL.
// Priority: POLYMATH_SERVER_URL env > auth.json > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("POLYMATH_SERVER_URL"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil && creds.ServerURL != "" {
		return creds.ServerURL
	}
	if cfg, err := LoadConfig(); err == nil && cfg.Sync.URL != "" {
		return cfg.Sync.URL
	}
	return defaultServerURL
}

// GetAPIKey returns the API key.
// Priority: POLYMATH_API_KEY env > auth.json.
func GetAPIKey() string {
	if v := os.Getenv("POLYMATH_API_KEY"); v != "" {
		return v
	}
	if creds, err := LoadAuth(); err == nil && creds != nil {
		return creds.APIKey
	}
	return ""
}

// IsAuthenticated returns true if an API key is available.
func IsAuthenticated() bool {
	return GetAPIKey() != ""
}

// GetDeviceID returns the persisted device ID, generating and saving one
// on first use.
func GetDeviceID() (string, error) {
	creds, err := LoadAuth()
	if err != nil {
		return "", err
	}
	if creds != nil && creds.DeviceID != "" {
		return creds.DeviceID, nil
	}

	id, err := GenerateDeviceID()
	if err != nil {
		return "", err
	}
	if creds == nil {
		creds = &AuthCredentials{}
	}
	creds.DeviceID = id
	if err := SaveAuth(creds); err != nil {
		return "", err
	}
	return id, nil
}

// GenerateDeviceID creates a new random device ID (16 bytes hex).
func GenerateDeviceID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GetProbeInterval returns how often the daemon probes connectivity.
// Priority: POLYMATH_PROBE_INTERVAL env > config.json > 30s.
func GetProbeInterval() time.Duration {
	if v := os.Getenv("POLYMATH_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	if cfg, err := LoadConfig(); err == nil && cfg.Sync.ProbeInterval != "" {
		if d, err := time.ParseDuration(cfg.Sync.ProbeInterval); err == nil && d > 0 {
			return d
		}
	}
	return 30 * time.Second
}

// GetMaxAttempts returns the retry budget before dead-lettering.
// Priority: POLYMATH_MAX_ATTEMPTS env > config.json > 10.
func GetMaxAttempts() int {
	if v := os.Getenv("POLYMATH_MAX_ATTEMPTS"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			return n
		}
	}
	if cfg, err := LoadConfig(); err == nil && cfg.Sync.MaxAttempts != nil && *cfg.Sync.MaxAttempts > 0 {
		return *cfg.Sync.MaxAttempts
	}
	return 10
}

// GetDropDir returns the capture drop directory.
// Priority: POLYMATH_DROP_DIR env > config.json > <data dir>/inbox.
func GetDropDir() (string, error) {
	if v := os.Getenv("POLYMATH_DROP_DIR"); v != "" {
		return v, nil
	}
	if cfg, err := LoadConfig(); err == nil && cfg.Capture.DropDir != "" {
		return cfg.Capture.DropDir, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "inbox"), nil
}

// parseBoolEnv returns nil if env not set, pointer to bool if set.
func parseBoolEnv(envKey string) *bool {
	v := strings.ToLower(os.Getenv(envKey))
	switch v {
	case "1", "true":
		b := true
		return &b
	case "0", "false":
		b := false
		return &b
	}
	return nil
}

// GetSyncEnabled returns whether background sync is enabled.
// Priority: POLYMATH_SYNC env > config.json > true.
func GetSyncEnabled() bool {
	if v := parseBoolEnv("POLYMATH_SYNC"); v != nil {
		return *v
	}
	if cfg, err := LoadConfig(); err == nil && cfg.Sync.Enabled != nil {
		return *cfg.Sync.Enabled
	}
	return true
}
