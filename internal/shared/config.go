package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Source   SourceConfig   `toml:"source"`
	Blob     BlobConfig     `toml:"blob"`
	Limits   LimitsConfig   `toml:"limits"`
	Runner   RunnerConfig   `toml:"runner"`
	Log      LogConfig      `toml:"log"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// SourceConfig contains settings for the source board API client.
//
// Credentials are per job and live in the job configuration, not here.
type SourceConfig struct {
	BaseURL           string        `toml:"base_url"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	Burst             int           `toml:"burst"`
	Timeout           time.Duration `toml:"timeout"`
	MaxAttempts       int           `toml:"max_attempts"`
}

// BlobConfig selects the attachment stores and the size routing between them.
//
// An empty LargeDir means no large-object store is available.
type BlobConfig struct {
	SmallDir       string        `toml:"small_dir"`
	LargeDir       string        `toml:"large_dir"`
	ThresholdBytes int64         `toml:"threshold_bytes"`
	HardCapBytes   int64         `toml:"hard_cap_bytes"`
	PresignTTL     time.Duration `toml:"presign_ttl"`
	PresignSecret  string        `toml:"presign_secret"`
}

// LimitsConfig holds per-phase concurrency limits.
type LimitsConfig struct {
	AttachmentScan     int `toml:"attachment_scan"`
	AttachmentDownload int `toml:"attachment_download"`
	ChecklistFetch     int `toml:"checklist_fetch"`
	CardUpdate         int `toml:"card_update"`
	PositionSync       int `toml:"position_sync"`
	CoverResolution    int `toml:"cover_resolution"`
}

// RunnerConfig contains deadline and checkpoint settings for the migration runner.
type RunnerConfig struct {
	Deadline       time.Duration `toml:"deadline"`
	DeadlineMargin time.Duration `toml:"deadline_margin"`
	DownloadMargin time.Duration `toml:"download_margin"`
	DetailInterval time.Duration `toml:"detail_interval"`
	CacheEntries   int64         `toml:"cache_entries"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate checks that limits and blob routing are usable.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}
	if c.Blob.ThresholdBytes <= 0 || c.Blob.HardCapBytes < c.Blob.ThresholdBytes {
		return fmt.Errorf("%w: blob.hard_cap_bytes must be >= blob.threshold_bytes > 0", ErrInvalidConfig)
	}
	limits := []int{
		c.Limits.AttachmentScan, c.Limits.AttachmentDownload, c.Limits.ChecklistFetch,
		c.Limits.CardUpdate, c.Limits.PositionSync, c.Limits.CoverResolution,
	}
	for _, l := range limits {
		if l <= 0 {
			return fmt.Errorf("%w: concurrency limits must be positive", ErrInvalidConfig)
		}
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
