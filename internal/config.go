// Package internal holds the application configuration.
package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Conflict strategies accepted by the update command.
const (
	StrategySkip        = "skip"
	StrategyOverwrite   = "overwrite"
	StrategyInteractive = "interactive"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Storage   StorageConfig     `yaml:"storage"`
	Snapshots SnapshotConfig    `yaml:"snapshots"`
	Update    UpdateConfig      `yaml:"update"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Snapshots.Validate(); err != nil {
		return err
	}
	return c.Update.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend    string `yaml:"backend"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.Required, validation.In(BackendMemory, BackendSQLite)),
	); err != nil {
		return err
	}
	if c.Backend == BackendSQLite && c.SQLitePath == "" {
		return fmt.Errorf("storage: backend is %q but sqlite_path is empty", BackendSQLite)
	}
	return nil
}

// SnapshotConfig holds snapshot retention settings. AutoLimit caps
// automatic snapshots per session; manual ones are never evicted.
type SnapshotConfig struct {
	AutoLimit int `yaml:"auto_limit"`
}

// Validate validates the snapshot configuration.
func (c *SnapshotConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.AutoLimit, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

// UpdateConfig holds update-engine settings.
//
// StrictSnapshot controls the pre-update safety net: when false
// (default) a failed snapshot degrades to a warning and the apply
// proceeds; when true it aborts the apply.
type UpdateConfig struct {
	DefaultStrategy string `yaml:"default_strategy"`
	StrictSnapshot  bool   `yaml:"strict_snapshot"`
}

// Validate validates the update configuration.
func (c *UpdateConfig) Validate() error {
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = StrategySkip
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.DefaultStrategy,
			validation.Required, validation.In(StrategySkip, StrategyOverwrite, StrategyInteractive)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
		},
		Storage: StorageConfig{
			Backend:    BackendSQLite,
			SQLitePath: "./tronos.db",
		},
		Snapshots: SnapshotConfig{
			AutoLimit: 5,
		},
		Update: UpdateConfig{
			DefaultStrategy: StrategySkip,
		},
	}
}
