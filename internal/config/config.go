package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Queue   QueueConfig   `mapstructure:"queue"`
	Worker  WorkerConfig  `mapstructure:"worker"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Driver     string           `mapstructure:"driver"`
	Filesystem FilesystemConfig `mapstructure:"filesystem"`
	S3         S3Config         `mapstructure:"s3"`
}

type FilesystemConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

type CacheConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Namespace string `mapstructure:"namespace"`
}

type QueueConfig struct {
	Path     string        `mapstructure:"path"`
	Capacity int           `mapstructure:"capacity"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

func Load() (*Config, error) {
	var cfg Config

	// Set defaults
	dataDir := defaultDataDir()
	viper.SetDefault("log.level", "info")
	viper.SetDefault("storage.driver", "filesystem")
	viper.SetDefault("storage.filesystem.root_dir", filepath.Join(dataDir, "registry"))
	viper.SetDefault("cache.enabled", false)
	viper.SetDefault("cache.directory", filepath.Join(dataDir, "cache"))
	viper.SetDefault("cache.namespace", "stratum")
	viper.SetDefault("queue.path", filepath.Join(dataDir, "queue.db"))
	viper.SetDefault("queue.capacity", 512)
	viper.SetDefault("queue.lock_ttl", 5*time.Minute)
	viper.SetDefault("worker.concurrency", 2)
	viper.SetDefault("worker.poll_interval", time.Second)

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}

func defaultDataDir() string {
	if dir := os.Getenv("STRATUM_DATA_DIR"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".stratum")
	}
	return "./data"
}
