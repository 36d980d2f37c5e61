// Package clientconfig holds the settings of the portal CLI: which origin to
// talk to, where the shared local storage lives, the edge worker address and
// the saved administrator credential.
package clientconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcus/portal/internal/portal"
)

// EdgeConfig configures `portal edge`.
type EdgeConfig struct {
	Listen  string `json:"listen,omitempty"`   // default 127.0.0.1:8081
	CacheDB string `json:"cache_db,omitempty"` // default <state dir>/cache.db
}

// Config is the CLI config stored at ~/.config/portal/config.json.
type Config struct {
	URL       string     `json:"url"`
	StateDir  string     `json:"state_dir,omitempty"`
	WorkerURL string     `json:"worker_url,omitempty"`
	Edge      EdgeConfig `json:"edge"`
}

// AuthCredentials stores the administrator credential at
// ~/.config/portal/auth.json. Only the salted hash is kept.
type AuthCredentials struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
	ServerURL    string `json:"server_url"`
	SavedAt      string `json:"saved_at"`
}

const (
	defaultServerURL  = "http://localhost:8080"
	defaultEdgeListen = "127.0.0.1:8081"
)

// ConfigDir returns ~/.config/portal, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "portal")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// LoadConfig reads ~/.config/portal/config.json. A missing file is an empty
// config.
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
		return nil, fmt.Errorf("parse %s: %w", filepath.Join(dir, "config.json"), err)
	}
	return &cfg, nil
}

// SaveConfig writes ~/.config/portal/config.json.
func SaveConfig(cfg *Config) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// LoadAuth reads auth.json; nil when absent.
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

// SaveAuth writes auth.json with 0600 perms.
func SaveAuth(creds *AuthCredentials) error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if creds.SavedAt == "" {
		creds.SavedAt = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "auth.json"), data, 0600)
}

// ClearAuth removes auth.json.
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

// GetServerURL returns the origin URL.
// Priority: PORTAL_URL env > config.json > default.
func GetServerURL() string {
	if v := os.Getenv("PORTAL_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.URL != "" {
		return strings.TrimRight(cfg.URL, "/")
	}
	return defaultServerURL
}

// GetStateDir returns the directory shared by every client context on this
// host. Priority: PORTAL_STATE_DIR env > config.json > ~/.config/portal/state.
func GetStateDir() (string, error) {
	if v := os.Getenv("PORTAL_STATE_DIR"); v != "" {
		return v, nil
	}
	cfg, err := LoadConfig()
	if err == nil && cfg.StateDir != "" {
		return cfg.StateDir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state"), nil
}

// GetWorkerURL returns the control URL of a running edge worker, empty when
// none is configured.
// Priority: PORTAL_WORKER_URL env > config.json.
func GetWorkerURL() string {
	if v := os.Getenv("PORTAL_WORKER_URL"); v != "" {
		return strings.TrimRight(v, "/")
	}
	cfg, err := LoadConfig()
	if err == nil {
		return strings.TrimRight(cfg.WorkerURL, "/")
	}
	return ""
}

// GetEdge returns the edge worker settings with defaults applied.
func GetEdge() (EdgeConfig, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return EdgeConfig{}, err
	}
	edge := cfg.Edge
	if edge.Listen == "" {
		edge.Listen = defaultEdgeListen
	}
	if edge.CacheDB == "" {
		state, err := GetStateDir()
		if err != nil {
			return EdgeConfig{}, err
		}
		edge.CacheDB = filepath.Join(state, "cache.db")
	}
	return edge, nil
}

// GetCredential returns the administrator credential for saves.
// Priority: PORTAL_ADMIN_USER + PORTAL_ADMIN_HASH env > auth.json.
func GetCredential() (portal.Credential, bool) {
	user, hash := os.Getenv("PORTAL_ADMIN_USER"), os.Getenv("PORTAL_ADMIN_HASH")
	if user != "" && hash != "" {
		return portal.Credential{Username: user, PasswordHash: hash}, true
	}
	creds, err := LoadAuth()
	if err == nil && creds != nil && creds.Username != "" && creds.PasswordHash != "" {
		return portal.Credential{Username: creds.Username, PasswordHash: creds.PasswordHash}, true
	}
	return portal.Credential{}, false
}
