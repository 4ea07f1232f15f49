package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every environment override, e.g. MASTODON_CORE_LOG_LEVEL.
const EnvPrefix = "MASTODON_CORE_"

const appDirName = "mastodon-core"

// SocketConfig controls the local IPC endpoint
type SocketConfig struct {
	// Path is a Unix socket path, or a named pipe path on Windows.
	Path           string `json:"path" env:"PATH"`
	Permissions    string `json:"permissions" env:"PERMISSIONS"` // octal, e.g. "0600"
	MaxConnections int    `json:"max_connections" env:"MAX_CONNECTIONS"`
	MaxFrameBytes  int    `json:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
}

// StorageConfig controls the account database
type StorageConfig struct {
	DatabasePath string `json:"database_path" env:"DATABASE_PATH"`
	// TokenPassphrase seals stored tokens. Environment only, never written to disk.
	TokenPassphrase string `json:"-" env:"TOKEN_PASSPHRASE"`
	CacheMaxAgeDays int    `json:"cache_max_age_days" env:"CACHE_MAX_AGE_DAYS"`
}

// RemoteConfig describes how this client registers with instances
type RemoteConfig struct {
	AppName        string   `json:"app_name" env:"APP_NAME"`
	Website        string   `json:"website" env:"WEBSITE"`
	Scopes         []string `json:"scopes" env:"SCOPES" envSeparator:" "`
	RedirectURI    string   `json:"redirect_uri" env:"REDIRECT_URI"`
	TimeoutSeconds int      `json:"timeout_seconds" env:"TIMEOUT_SECONDS"`
}

// Config represents application configuration
type Config struct {
	Socket     SocketConfig  `json:"socket" envPrefix:"SOCKET_"`
	Storage    StorageConfig `json:"storage" envPrefix:"STORAGE_"`
	Remote     RemoteConfig  `json:"remote" envPrefix:"REMOTE_"`
	LogLevel   string        `json:"log_level" env:"LOG_LEVEL"` // debug, info, warn, error, none
	LogDir     string        `json:"log_dir" env:"LOG_DIR"`
	LogConsole bool          `json:"log_console" env:"LOG_CONSOLE"`
}

func defaultConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, appDirName)
		}
		return filepath.Join(homeDir, "AppData", "Roaming", appDirName)
	default:
		if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
			return filepath.Join(xdg, appDirName)
		}
		return filepath.Join(homeDir, ".config", appDirName)
	}
}

func defaultStateDir() string {
	homeDir, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, appDirName)
		}
		return filepath.Join(homeDir, ".local", "state", appDirName)
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, appDirName, "logs")
		}
		return filepath.Join(homeDir, "AppData", "Local", appDirName, "logs")
	case "darwin":
		return filepath.Join(homeDir, "Library", "Logs", appDirName)
	default:
		return filepath.Join(homeDir, ".local", "state", appDirName)
	}
}

// defaultDataDir is shared with the desktop UI, hence the product name.
func defaultDataDir() string {
	homeDir, _ := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "Blindodon")
		}
		return filepath.Join(homeDir, "AppData", "Local", "Blindodon")
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", "Blindodon")
	default:
		if xdg := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); xdg != "" {
			return filepath.Join(xdg, "Blindodon")
		}
		return filepath.Join(homeDir, ".local", "share", "Blindodon")
	}
}

// DefaultSocketPath is the endpoint the UI process dials.
func DefaultSocketPath() string {
	if runtime.GOOS == "windows" {
		return `\\.\pipe\blindodon_ipc`
	}
	return "/tmp/blindodon_ipc.sock"
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Socket: SocketConfig{
			Path:           DefaultSocketPath(),
			Permissions:    "0600",
			MaxConnections: 16,
			MaxFrameBytes:  8 << 20,
		},
		Storage: StorageConfig{
			DatabasePath:    filepath.Join(defaultDataDir(), "cache.db"),
			CacheMaxAgeDays: 7,
		},
		Remote: RemoteConfig{
			AppName:        "Blindodon",
			Website:        "https://github.com/blindodon/blindodon",
			Scopes:         []string{"read", "write", "follow", "push"},
			RedirectURI:    "urn:ietf:wg:oauth:2.0:oob",
			TimeoutSeconds: 30,
		},
		LogLevel: "info",
		LogDir:   defaultStateDir(),
	}
}

// Load reads the file at path over the defaults, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillDefaults restores fields that the file explicitly blanked.
func (c *Config) fillDefaults() {
	d := DefaultConfig()
	if c.Socket.Path == "" {
		c.Socket.Path = d.Socket.Path
	}
	if c.Socket.Permissions == "" {
		c.Socket.Permissions = d.Socket.Permissions
	}
	if c.Socket.MaxFrameBytes == 0 {
		c.Socket.MaxFrameBytes = d.Socket.MaxFrameBytes
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = d.Storage.DatabasePath
	}
	if c.Remote.AppName == "" {
		c.Remote.AppName = d.Remote.AppName
	}
	if len(c.Remote.Scopes) == 0 {
		c.Remote.Scopes = d.Remote.Scopes
	}
	if c.Remote.RedirectURI == "" {
		c.Remote.RedirectURI = d.Remote.RedirectURI
	}
	if c.Remote.TimeoutSeconds == 0 {
		c.Remote.TimeoutSeconds = d.Remote.TimeoutSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Validate rejects values the process cannot run with.
func (c *Config) Validate() error {
	if _, err := c.SocketMode(); err != nil {
		return err
	}
	if c.Socket.MaxConnections < 0 {
		return fmt.Errorf("socket.max_connections must not be negative")
	}
	if c.Socket.MaxFrameBytes < 1024 {
		return fmt.Errorf("socket.max_frame_bytes must be at least 1024")
	}
	if c.Storage.CacheMaxAgeDays < 0 {
		return fmt.Errorf("storage.cache_max_age_days must not be negative")
	}
	if c.Remote.TimeoutSeconds < 0 {
		return fmt.Errorf("remote.timeout_seconds must not be negative")
	}
	return nil
}

// SocketMode parses Socket.Permissions as an octal file mode.
func (c *Config) SocketMode() (os.FileMode, error) {
	v, err := strconv.ParseUint(c.Socket.Permissions, 8, 32)
	if err != nil || v > 0o777 {
		return 0, fmt.Errorf("socket.permissions %q is not an octal mode", c.Socket.Permissions)
	}
	return os.FileMode(v), nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
