package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the profile configuration file inside a profile directory.
const FileName = "config.toml"

// Duration wraps time.Duration so it reads and writes as "5m" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ProviderConfig controls the embedded-side provider.
type ProviderConfig struct {
	TargetOrigin   string   `toml:"targetOrigin"`
	RequestTimeout Duration `toml:"requestTimeout"`
	Origin         string   `toml:"origin"`
}

// HostConfig defines where the host listens.
type HostConfig struct {
	SocketPath     string   `toml:"socketPath"`
	WebSocketAddr  string   `toml:"webSocketAddr"`
	MetricsAddr    string   `toml:"metricsAddr"`
	AllowedOrigins []string `toml:"allowedOrigins"`
	Compression    bool     `toml:"compression"`
}

// StorageConfig defines SQLite tuning options for the request journal.
type StorageConfig struct {
	DBPath      string `toml:"dbPath"`
	JournalMode string `toml:"journalMode"`
	Synchronous string `toml:"synchronous"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
	FileBackups int    `toml:"fileMaxBackups"`
}

// ProfileConfig aggregates configuration for a profile.
type ProfileConfig struct {
	ProfileName string         `toml:"profileName"`
	Provider    ProviderConfig `toml:"provider"`
	Host        HostConfig     `toml:"host"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
}

// DefaultProfile returns the configuration written by `bio init`.
func DefaultProfile(name string) *ProfileConfig {
	return &ProfileConfig{
		ProfileName: name,
		Provider: ProviderConfig{
			TargetOrigin:   "*",
			RequestTimeout: Duration{5 * time.Minute},
			Origin:         "bio-cli://local",
		},
		Host: HostConfig{
			SocketPath: "bio.sock",
		},
		Storage: StorageConfig{
			DBPath:      "journal.db",
			JournalMode: "WAL",
			Synchronous: "NORMAL",
		},
		Logging: LoggingConfig{
			Level:       "info",
			FileMaxSize: 10,
			FileBackups: 3,
		},
	}
}

// Load reads config.toml from the provided path.
func Load(path string) (*ProfileConfig, error) {
	var cfg ProfileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads config.toml inside a profile directory.
func LoadProfile(profileDir string) (*ProfileConfig, error) {
	return Load(filepath.Join(profileDir, FileName))
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *ProfileConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// ResolvePath makes relative paths relative to the profile directory.
func ResolvePath(profileDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(profileDir, path)
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	if cfg.Host.SocketPath == "" {
		return fmt.Errorf("host.socketPath required")
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.dbPath required")
	}
	if cfg.Provider.RequestTimeout.Duration < 0 {
		return fmt.Errorf("provider.requestTimeout must not be negative")
	}
	if cfg.Provider.TargetOrigin == "" {
		cfg.Provider.TargetOrigin = "*"
	}
	if cfg.Provider.RequestTimeout.Duration == 0 {
		cfg.Provider.RequestTimeout = Duration{5 * time.Minute}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return nil
}
