package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "text" or "json"
}

type StorageConfig struct {
	Database         string `toml:"database"`          // SQLite path for cache + watermarks + accounts
	SettingsDatabase string `toml:"settings_database"` // bbolt path for user settings
}

type EncryptionConfig struct {
	Passphrase string `toml:"passphrase"` // Key material for account-secret encryption
}

type SyncConfig struct {
	PageSize       int `toml:"page_size"`        // Default fetch window
	CacheLimit     int `toml:"cache_limit"`      // Default per-account retention cap
	SearchCap      int `toml:"search_cap"`       // Max matches fetched per server search
	DialTimeoutSec int `toml:"dial_timeout"`     // Seconds
	CmdTimeoutSec  int `toml:"command_timeout"`  // Seconds
	DialsPerSecond int `toml:"dials_per_second"` // Mail-server dial throttle
	DialBurst      int `toml:"dial_burst"`
}

type Config struct {
	Log        LogConfig        `toml:"log"`
	Storage    StorageConfig    `toml:"storage"`
	Encryption EncryptionConfig `toml:"encryption"`
	Sync       SyncConfig       `toml:"sync"`
}

func LoadConfig(filepath string) (*Config, error) {
	var config Config

	// Set default values
	config.Log.Level = "info"
	config.Log.Format = "text"
	config.Storage.Database = "mailbridge.db"
	config.Storage.SettingsDatabase = "settings.db"
	config.Sync.PageSize = 50
	config.Sync.CacheLimit = 200
	config.Sync.SearchCap = 100
	config.Sync.DialTimeoutSec = 15
	config.Sync.CmdTimeoutSec = 30
	config.Sync.DialsPerSecond = 5
	config.Sync.DialBurst = 10

	// Load config file
	_, err := toml.DecodeFile(filepath, &config)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	return &config, nil
}

// Validate checks the loaded configuration for unusable values.
func (c *Config) Validate() error {
	if c.Encryption.Passphrase == "" {
		return fmt.Errorf("encryption passphrase is required")
	}
	if c.Sync.PageSize < 1 {
		return fmt.Errorf("sync page_size must be positive")
	}
	if c.Sync.CacheLimit < 1 {
		return fmt.Errorf("sync cache_limit must be positive")
	}
	return nil
}

// DialTimeout returns the connect timeout as a duration.
func (c *SyncConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSec) * time.Second
}

// CommandTimeout returns the per-command socket timeout as a duration.
func (c *SyncConfig) CommandTimeout() time.Duration {
	return time.Duration(c.CmdTimeoutSec) * time.Second
}
