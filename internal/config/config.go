package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// EnvConfigPath overrides the default config location.
const EnvConfigPath = "SMART_PUBLISH_CONFIG"

// Config represents the daemon configuration loaded from a TOML file.
type Config struct {
	Storage     StorageConfig     `toml:"storage"`
	Credentials CredentialsConfig `toml:"credentials"`
	Server      ServerConfig      `toml:"server"`
	Publish     PublishConfig     `toml:"publish"`
	Login       LoginConfig       `toml:"login"`
	Automation  AutomationConfig  `toml:"automation"`
	Log         LogConfig         `toml:"log"`
}

// StorageConfig selects the task/account persistence backend.
type StorageConfig struct {
	Driver  string `toml:"driver"`
	DataDir string `toml:"data_dir"`
}

// CredentialsConfig locates the credential blob directory.
type CredentialsConfig struct {
	Dir string `toml:"dir"`
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Addr   string `toml:"addr"`
	Socket string `toml:"socket"`
}

// PublishConfig tunes the task orchestrator.
type PublishConfig struct {
	Workers          int      `toml:"workers"`
	MaxUploadRetries int      `toml:"max_upload_retries"`
	RetryBackoff     Duration `toml:"retry_backoff"`
	AuthRetryBackoff Duration `toml:"auth_retry_backoff"`
	UploadTimeout    Duration `toml:"upload_timeout"`
	ScheduleTimeout  Duration `toml:"schedule_timeout"`
	ConfirmTimeout   Duration `toml:"confirm_timeout"`
	ProbeTimeout     Duration `toml:"probe_timeout"`
	Retention        Duration `toml:"retention"`
	CleanupInterval  Duration `toml:"cleanup_interval"`
	Fingerprint      string   `toml:"fingerprint"`
	DefaultSlots     []string `toml:"default_slots"`
}

// LoginConfig bounds the interactive login flow.
type LoginConfig struct {
	Timeout Duration `toml:"timeout"`
}

// AutomationConfig controls the browser used by platform adapters.
type AutomationConfig struct {
	Headless          bool   `toml:"headless"`
	ChromePath        string `toml:"chrome_path"`
	SessionsPerMinute int    `toml:"sessions_per_minute"`
	Burst             int    `toml:"burst"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration that decodes from strings like "10m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Load reads path on top of the defaults. A missing file is not an error
// when path is the default location.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return config, config.resolve()
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, config.resolve()
}

// DefaultConfig returns a Config with defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// DefaultPath is ~/.config/smart-publish/config.toml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "smart-publish", "config.toml")
}

// CreateConfigFile writes the embedded example config to path.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("storage.driver must be sqlite or memory, got %q", c.Storage.Driver)
	}

	switch c.Publish.Fingerprint {
	case "path", "content":
	default:
		return fmt.Errorf("publish.fingerprint must be path or content, got %q", c.Publish.Fingerprint)
	}

	if c.Publish.Workers < 1 {
		return fmt.Errorf("publish.workers must be at least 1")
	}
	if c.Publish.MaxUploadRetries < 0 {
		return fmt.Errorf("publish.max_upload_retries must not be negative")
	}
	if c.Login.Timeout.Duration <= 0 {
		return fmt.Errorf("login.timeout must be positive")
	}
	if c.Automation.SessionsPerMinute < 1 || c.Automation.Burst < 1 {
		return fmt.Errorf("automation.sessions_per_minute and automation.burst must be at least 1")
	}

	return nil
}

// resolve fills the directory defaults that depend on the environment.
func (c *Config) resolve() error {
	if c.Storage.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		c.Storage.DataDir = filepath.Join(home, ".local", "share", "smart-publish")
	}

	if c.Credentials.Dir == "" {
		c.Credentials.Dir = filepath.Join(c.Storage.DataDir, "credentials")
	}

	if c.Server.Socket == "" {
		c.Server.Socket = DefaultSocketPath()
	}

	return nil
}

// DefaultSocketPath retorna la ruta por defecto del socket del daemon.
func DefaultSocketPath() string {
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "smart-publish.sock")
	}
	return fmt.Sprintf("/tmp/smart-publish-%d.sock", os.Getuid())
}
