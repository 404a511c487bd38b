// Package config loads the server's KEY=VALUE configuration file.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/martimgil/concurrent-http-server/pkg/logger"
)

// Config holds all configuration values for the server.
type Config struct {
	Port             int    `mapstructure:"port"`
	DocumentRoot     string `mapstructure:"document_root"`
	NumWorkers       int    `mapstructure:"num_workers"`
	ThreadsPerWorker int    `mapstructure:"threads_per_worker"`
	MaxQueueSize     int    `mapstructure:"max_queue_size"`
	LogFile          string `mapstructure:"log_file"`
	CacheSizeMB      int    `mapstructure:"cache_size_mb"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	AdminPort        int    `mapstructure:"admin_port"`
}

// PerWorkerCacheBytes divides CacheSizeMB across NumWorkers, floored at 1 MiB.
func (c *Config) PerWorkerCacheBytes() int64 {
	const mib = 1 << 20
	total := int64(c.CacheSizeMB) * mib
	if c.NumWorkers <= 0 {
		return total
	}
	per := total / int64(c.NumWorkers)
	if per < mib {
		per = mib
	}
	return per
}

// Load reads configuration from a line-oriented KEY=VALUE file (blank
// lines and lines starting with "#" are ignored). Missing keys fall
// back to the defaults named in spec §6.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")

	v.SetDefault("port", 8080)
	v.SetDefault("document_root", "www")
	v.SetDefault("num_workers", 2)
	v.SetDefault("threads_per_worker", 10)
	v.SetDefault("max_queue_size", 100)
	v.SetDefault("log_file", "logs/access.log")
	v.SetDefault("cache_size_mb", 64)
	v.SetDefault("timeout_seconds", 30)
	v.SetDefault("admin_port", 9090)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT %d", cfg.Port)
	}
	if cfg.NumWorkers <= 0 {
		logger.Warn("NUM_WORKERS <= 0 (%d), defaulting to 2", cfg.NumWorkers)
		cfg.NumWorkers = 2
	}
	if cfg.ThreadsPerWorker <= 0 {
		logger.Warn("THREADS_PER_WORKER <= 0 (%d), defaulting to 10", cfg.ThreadsPerWorker)
		cfg.ThreadsPerWorker = 10
	}
	if cfg.MaxQueueSize <= 0 {
		logger.Warn("MAX_QUEUE_SIZE <= 0 (%d), defaulting to 100", cfg.MaxQueueSize)
		cfg.MaxQueueSize = 100
	}
	if cfg.CacheSizeMB <= 0 {
		logger.Warn("CACHE_SIZE_MB <= 0 (%d), defaulting to 64", cfg.CacheSizeMB)
		cfg.CacheSizeMB = 64
	}

	logger.Info("Configuration loaded successfully from %s", path)
	logger.Info("  port: %d", cfg.Port)
	logger.Info("  document_root: %s", cfg.DocumentRoot)
	logger.Info("  num_workers: %d", cfg.NumWorkers)
	logger.Info("  threads_per_worker: %d", cfg.ThreadsPerWorker)
	logger.Info("  max_queue_size: %d", cfg.MaxQueueSize)
	logger.Info("  log_file: %s", cfg.LogFile)
	logger.Info("  cache_size_mb: %d (%.2f MiB/worker)", cfg.CacheSizeMB, float64(cfg.PerWorkerCacheBytes())/(1<<20))
	logger.Info("  timeout_seconds: %d (not enforced per request; bounds thread-pool shutdown)", cfg.TimeoutSeconds)
	logger.Info("  admin_port: %d", cfg.AdminPort)

	return &cfg, nil
}
