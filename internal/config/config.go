package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Remote     RemoteConfig     `yaml:"remote"`
	Storage    StorageConfig    `yaml:"storage"`
	Sync       SyncConfig       `yaml:"sync"`
	Monitor    MonitorConfig    `yaml:"monitor"`
	API        APIConfig        `yaml:"api"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// RemoteConfig describes the remote authoritative service the queue
// reconciles against.
type RemoteConfig struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RPS            float64 `yaml:"rps"`
	Burst          int     `yaml:"burst"`
}

// StorageConfig describes the external content store the workflow monitor
// polls for file-count signals.
type StorageConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SyncConfig sets the retry cap and backoff curve. These are configuration
// on purpose: the cap converts recoverable failures into terminal ones and
// operators tune it per deployment.
type SyncConfig struct {
	MaxAttempts         int     `yaml:"max_attempts"`
	InitialDelaySeconds int     `yaml:"initial_delay_seconds"`
	MaxDelaySeconds     int     `yaml:"max_delay_seconds"`
	BackoffFactor       float64 `yaml:"backoff_factor"`
	PollIntervalSeconds int     `yaml:"poll_interval_seconds"`
	BatchSize           int     `yaml:"batch_size"`
}

type MonitorConfig struct {
	Enabled             bool `yaml:"enabled"`
	ScanIntervalSeconds int  `yaml:"scan_interval_seconds"`
}

type APIConfig struct {
	Enabled bool    `yaml:"enabled"`
	Port    int     `yaml:"port"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Environment variables may be referenced from YAML.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if c.Sync.MaxAttempts < 1 {
		return errors.New("sync max_attempts must be at least 1")
	}
	if c.Sync.BackoffFactor < 1 {
		return errors.New("sync backoff_factor must be at least 1")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "studiosync"
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = 5
	}
	if c.Sync.InitialDelaySeconds == 0 {
		c.Sync.InitialDelaySeconds = 2
	}
	if c.Sync.MaxDelaySeconds == 0 {
		c.Sync.MaxDelaySeconds = 60
	}
	if c.Sync.BackoffFactor == 0 {
		c.Sync.BackoffFactor = 2
	}
	if c.Sync.PollIntervalSeconds == 0 {
		c.Sync.PollIntervalSeconds = 15
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 20
	}
	if c.Monitor.ScanIntervalSeconds == 0 {
		c.Monitor.ScanIntervalSeconds = 60
	}
	if c.Remote.TimeoutSeconds == 0 {
		c.Remote.TimeoutSeconds = 15
	}
	if c.Remote.RPS == 0 {
		c.Remote.RPS = 5
	}
	if c.Remote.Burst == 0 {
		c.Remote.Burst = 10
	}
	if c.Storage.TimeoutSeconds == 0 {
		c.Storage.TimeoutSeconds = 10
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.RPS == 0 {
		c.API.RPS = 20
	}
	if c.API.Burst == 0 {
		c.API.Burst = 40
	}
}

// Durations in the YAML are plain integer seconds; the accessors below give
// the typed values the components want.

func (c *SyncConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelaySeconds) * time.Second
}

func (c *SyncConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

func (c *SyncConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *MonitorConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

func (c *RemoteConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *StorageConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
