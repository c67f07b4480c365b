// Package config loads the ambient configuration for the revision
// acquisition pipeline: cache location, worker pool sizes, and the
// centralized-backend log window. It deliberately does not configure
// report behavior — that surface lives outside this module.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Sentinel validation errors.
var (
	ErrInvalidWorkers   = errors.New("worker count must be positive")
	ErrInvalidQueueBound = errors.New("job queue bound must be positive")
	ErrInvalidWindowSize = errors.New("log window size must be positive")
)

// Default configuration values.
const (
	defaultDiffstatWorkers = 4
	defaultMetadataWorkers = 4
	defaultQueueBound      = 512
	defaultLogWindow       = 1024
	defaultShardCap        = 4 << 20 // 4 MiB, per the cache wire format.
)

// Config holds the pipeline's ambient configuration.
type Config struct {
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Prefetch PrefetchConfig `mapstructure:"prefetch" yaml:"prefetch"`
	Backend  BackendConfig  `mapstructure:"backend" yaml:"backend"`
}

// CacheConfig controls where and how the on-disk revision cache is stored.
type CacheConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	ShardCap  int64  `mapstructure:"shard_cap_bytes" yaml:"shard_cap_bytes"`
}

// PrefetchConfig sizes the prefetcher's worker pools and backpressure bound.
type PrefetchConfig struct {
	DiffstatWorkers int `mapstructure:"diffstat_workers" yaml:"diffstat_workers"`
	MetadataWorkers int `mapstructure:"metadata_workers" yaml:"metadata_workers"`
	QueueBound      int `mapstructure:"queue_bound" yaml:"queue_bound"`
}

// BackendConfig controls backend-specific acquisition knobs.
type BackendConfig struct {
	LogWindowSize int `mapstructure:"log_window_size" yaml:"log_window_size"`
}

// YAML renders the resolved configuration (file, environment, and defaults
// already merged) back to YAML, for `scmwalk config` to print. `scmwalk
// walk` applies only the Cache section; the Prefetch and Backend values
// are not passed to the backends.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	return out, nil
}

// Load reads configuration from environment variables (prefixed SCMWALK_),
// an optional file, and built-in defaults, in that order of precedence
// (environment wins over file, file wins over defaults).
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()
	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("scmwalk")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
	}

	viperCfg.SetEnvPrefix("SCMWALK")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("read config file: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	if validateErr := validate(&cfg); validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &cfg, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("cache.directory", defaultCacheDir())
	viperCfg.SetDefault("cache.shard_cap_bytes", defaultShardCap)

	viperCfg.SetDefault("prefetch.diffstat_workers", defaultDiffstatWorkers)
	viperCfg.SetDefault("prefetch.metadata_workers", defaultMetadataWorkers)
	viperCfg.SetDefault("prefetch.queue_bound", defaultQueueBound)

	viperCfg.SetDefault("backend.log_window_size", defaultLogWindow)
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "scmwalk-cache")
	}

	return filepath.Join(home, ".cache", "scmwalk")
}

func validate(cfg *Config) error {
	if cfg.Prefetch.DiffstatWorkers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, cfg.Prefetch.DiffstatWorkers)
	}

	if cfg.Prefetch.MetadataWorkers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, cfg.Prefetch.MetadataWorkers)
	}

	if cfg.Prefetch.QueueBound <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQueueBound, cfg.Prefetch.QueueBound)
	}

	if cfg.Backend.LogWindowSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWindowSize, cfg.Backend.LogWindowSize)
	}

	return nil
}
