package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"cowfs/internal/artifacts"
	"cowfs/internal/storage"
)

// EnvPrefix is the prefix for environment overrides (COWFS_MAX_BLOCKS, ...)
const EnvPrefix = "COWFS"

// getConfigDir returns the config directory path.
// Uses COWFS_CONFIG_DIR env var if set, otherwise defaults to ~/.cowfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("COWFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cowfs")
}

// daemonName returns the fixed daemon name "daemon".
func daemonName() string {
	return "daemon"
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SocketPath returns the Unix socket path
func SocketPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".sock")
}

// PidPath returns the PID file path
func PidPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".pid")
}

// LogPath returns the log file path.
// Uses COWFS_DAEMON_LOG env var if set, otherwise defaults to config_dir/daemon.log.
func LogPath() string {
	if envPath := os.Getenv("COWFS_DAEMON_LOG"); envPath != "" {
		return envPath
	}
	return filepath.Join(getConfigDir(), daemonName()+".log")
}

// LockPath returns the lock file path
func LockPath() string {
	return filepath.Join(getConfigDir(), daemonName()+".lock")
}

// GlobalSettingsPath returns the global settings file path
func GlobalSettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir initializes the config directory with default files
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	settingsPath := GlobalSettingsPath()
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		if err := os.WriteFile(settingsPath, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// PoolSettings sizes the block pool the daemon serves
type PoolSettings struct {
	BlockSize   int    `yaml:"block_size"`  // Payload bytes per block
	MaxBlocks   int    `yaml:"max_blocks"`  // Number of blocks
	MaxInodes   int    `yaml:"max_inodes"`  // Reported inode capacity
	Compression string `yaml:"compression"` // none or snappy
}

// GlobalSettings represents global daemon settings
type GlobalSettings struct {
	LogLevel string       `yaml:"log_level"` // Log level: trace, debug, info, warn, off (default: off)
	Pool     PoolSettings `yaml:"pool"`
}

// envOverrides mirrors GlobalSettings as flat COWFS_* variables.
// Unset variables leave the pointer nil.
type envOverrides struct {
	LogLevel    *string `envconfig:"LOG_LEVEL"`
	BlockSize   *int    `envconfig:"BLOCK_SIZE"`
	MaxBlocks   *int    `envconfig:"MAX_BLOCKS"`
	MaxInodes   *int    `envconfig:"MAX_INODES"`
	Compression *string `envconfig:"COMPRESSION"`
}

// loadDefaultGlobalSettings parses default settings from embedded artifact.
func loadDefaultGlobalSettings() GlobalSettings {
	var settings GlobalSettings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &settings); err != nil {
		panic("failed to parse embedded global settings: " + err.Error())
	}
	return settings
}

// applyDefaults fills pool fields the file left out
func (s *GlobalSettings) applyDefaults() {
	def := loadDefaultGlobalSettings()
	if s.Pool.BlockSize == 0 {
		s.Pool.BlockSize = def.Pool.BlockSize
	}
	if s.Pool.MaxBlocks == 0 {
		s.Pool.MaxBlocks = def.Pool.MaxBlocks
	}
	if s.Pool.MaxInodes == 0 {
		s.Pool.MaxInodes = def.Pool.MaxInodes
	}
	if s.Pool.Compression == "" {
		s.Pool.Compression = def.Pool.Compression
	}
}

// LoadGlobalSettings loads the global settings from ~/.cowfs/settings.yaml.
// Always reads from file to get latest config. Falls back to embedded defaults if file doesn't exist.
func LoadGlobalSettings() (*GlobalSettings, error) {
	data, err := os.ReadFile(GlobalSettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			settings := loadDefaultGlobalSettings()
			return &settings, nil
		}
		return nil, err
	}

	var settings GlobalSettings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	settings.applyDefaults()

	return &settings, nil
}

// ApplyEnv overrides settings with COWFS_* environment variables
func (s *GlobalSettings) ApplyEnv() error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	if env.LogLevel != nil {
		s.LogLevel = *env.LogLevel
	}
	if env.BlockSize != nil {
		s.Pool.BlockSize = *env.BlockSize
	}
	if env.MaxBlocks != nil {
		s.Pool.MaxBlocks = *env.MaxBlocks
	}
	if env.MaxInodes != nil {
		s.Pool.MaxInodes = *env.MaxInodes
	}
	if env.Compression != nil {
		s.Pool.Compression = *env.Compression
	}
	return nil
}

// EffectiveSettings is the settings file with environment overrides applied.
// This is what the daemon runs with; `daemon config` edits the file alone.
func EffectiveSettings() (*GlobalSettings, error) {
	settings, err := LoadGlobalSettings()
	if err != nil {
		return nil, err
	}
	if err := settings.ApplyEnv(); err != nil {
		return nil, err
	}
	return settings, nil
}

// EngineConfig converts pool settings into a validated storage config
func (s *GlobalSettings) EngineConfig() (storage.Config, error) {
	compression, err := storage.ParseCompression(s.Pool.Compression)
	if err != nil {
		return storage.Config{}, err
	}
	cfg := storage.Config{
		BlockSize:   s.Pool.BlockSize,
		MaxBlocks:   s.Pool.MaxBlocks,
		MaxInodes:   s.Pool.MaxInodes,
		Compression: compression,
	}
	if err := cfg.Validate(); err != nil {
		return storage.Config{}, err
	}
	return cfg, nil
}

// SaveGlobalSettings saves the global settings to ~/.cowfs/settings.yaml
func SaveGlobalSettings(settings *GlobalSettings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# CowFS daemon settings\n# See: cowfs daemon config --help\n\n")
	return os.WriteFile(GlobalSettingsPath(), append(header, data...), 0600)
}
