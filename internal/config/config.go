// SPDX-License-Identifier: MIT

// Package config assembles daemon configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"time"
)

// Config is the full daemon configuration.
type Config struct {
	Listen        string `yaml:"listen"`
	MetricsListen string `yaml:"metricsListen"`
	LogLevel      string `yaml:"logLevel"`

	Worker WorkerConfig `yaml:"worker"`
	Hub    HubConfig    `yaml:"hub"`
	Store  StoreConfig  `yaml:"store"`
	Cache  CacheConfig  `yaml:"cache"`
	API    APIConfig    `yaml:"api"`
}

// WorkerConfig controls the external automation process.
type WorkerConfig struct {
	Interpreter    string        `yaml:"interpreter"`
	Script         string        `yaml:"script"`
	WorkDir        string        `yaml:"workDir"`
	ControlTimeout time.Duration `yaml:"controlTimeout"`
	WatchScript    bool          `yaml:"watchScript"`
}

// HubConfig controls the push channel and reconnect handling.
type HubConfig struct {
	ReconnectGrace time.Duration `yaml:"reconnectGrace"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
}

// StoreConfig controls run-history persistence.
type StoreConfig struct {
	DataDir string `yaml:"dataDir"`
}

// CacheConfig controls the check-result cache. An empty RedisAddr selects
// the in-memory cache.
type CacheConfig struct {
	RedisAddr     string        `yaml:"redisAddr"`
	RedisPassword string        `yaml:"redisPassword"`
	RedisDB       int           `yaml:"redisDB"`
	TTL           time.Duration `yaml:"ttl"`
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	UploadDir  string        `yaml:"uploadDir"`
	RateLimit  int           `yaml:"rateLimit"`
	RateWindow time.Duration `yaml:"rateWindow"`
}

func defaults() Config {
	return Config{
		Listen:        ":8080",
		MetricsListen: ":9090",
		LogLevel:      "info",
		Worker: WorkerConfig{
			Interpreter:    "node",
			ControlTimeout: 5 * time.Second,
		},
		Hub: HubConfig{
			ReconnectGrace: 25 * time.Second,
		},
		Store: StoreConfig{
			DataDir: "data",
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		API: APIConfig{
			UploadDir:  "uploads",
			RateLimit:  100,
			RateWindow: time.Minute,
		},
	}
}

// Load builds the configuration. path may be empty; environment variables
// override file values.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Listen = ParseString("TAQBRIDGE_LISTEN", cfg.Listen)
	cfg.MetricsListen = ParseString("TAQBRIDGE_METRICS_LISTEN", cfg.MetricsListen)
	cfg.LogLevel = ParseString("TAQBRIDGE_LOG_LEVEL", cfg.LogLevel)

	cfg.Worker.Interpreter = ParseString("TAQBRIDGE_WORKER_INTERPRETER", cfg.Worker.Interpreter)
	cfg.Worker.Script = ParseString("TAQBRIDGE_WORKER_SCRIPT", cfg.Worker.Script)
	cfg.Worker.WorkDir = ParseString("TAQBRIDGE_WORKER_DIR", cfg.Worker.WorkDir)
	cfg.Worker.ControlTimeout = ParseDuration("TAQBRIDGE_CONTROL_TIMEOUT", cfg.Worker.ControlTimeout)
	cfg.Worker.WatchScript = ParseBool("TAQBRIDGE_WATCH_SCRIPT", cfg.Worker.WatchScript)

	cfg.Hub.ReconnectGrace = ParseDuration("TAQBRIDGE_RECONNECT_GRACE", cfg.Hub.ReconnectGrace)
	cfg.Hub.AllowedOrigins = ParseStringSlice("TAQBRIDGE_ALLOWED_ORIGINS", cfg.Hub.AllowedOrigins)

	cfg.Store.DataDir = ParseString("TAQBRIDGE_DATA_DIR", cfg.Store.DataDir)

	cfg.Cache.RedisAddr = ParseString("TAQBRIDGE_REDIS_ADDR", cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = ParseString("TAQBRIDGE_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.Cache.RedisDB = ParseInt("TAQBRIDGE_REDIS_DB", cfg.Cache.RedisDB)
	cfg.Cache.TTL = ParseDuration("TAQBRIDGE_CACHE_TTL", cfg.Cache.TTL)

	cfg.API.UploadDir = ParseString("TAQBRIDGE_UPLOAD_DIR", cfg.API.UploadDir)
	cfg.API.RateLimit = ParseInt("TAQBRIDGE_RATE_LIMIT", cfg.API.RateLimit)
	cfg.API.RateWindow = ParseDuration("TAQBRIDGE_RATE_WINDOW", cfg.API.RateWindow)
}

// Validate rejects configurations the daemon cannot run with.
func (c Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.Worker.Interpreter == "" {
		return fmt.Errorf("worker interpreter must not be empty")
	}
	if c.Worker.Script == "" {
		return fmt.Errorf("worker script must be configured (TAQBRIDGE_WORKER_SCRIPT)")
	}
	if c.Worker.ControlTimeout <= 0 {
		return fmt.Errorf("control timeout must be positive, got %s", c.Worker.ControlTimeout)
	}
	if c.Hub.ReconnectGrace < 0 {
		return fmt.Errorf("reconnect grace must not be negative, got %s", c.Hub.ReconnectGrace)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative, got %d", c.API.RateLimit)
	}
	return nil
}
