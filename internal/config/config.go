// Package config loads and validates archiver configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bgm-archive/archiver/internal/category"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig        `mapstructure:"server"`
	Logging    LoggingConfig       `mapstructure:"logging"`
	DB         DBConfig            `mapstructure:"db"`
	Pipeline   PipelineConfig      `mapstructure:"pipeline"`
	Sampler    SamplerConfig       `mapstructure:"sampler"`
	Categories []category.Category `mapstructure:"categories"`
	Repos      []RepoConfig        `mapstructure:"repos"`
}

// ServerConfig controls the HTTP trigger surface.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Secret is required as the `secret` query parameter on mutating endpoints
	Secret          string `mapstructure:"secret"`
	ReadConcurrency int64  `mapstructure:"read_concurrency"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features and the rotating file sink.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// PipelineConfig governs conversion runs and lock behavior.
type PipelineConfig struct {
	LockTimeoutSeconds      int `mapstructure:"lock_timeout_seconds"`
	WriteLockTimeoutSeconds int `mapstructure:"write_lock_timeout_seconds"`
	// SampleBudgetSeconds is the wall-clock limit under which a run may
	// trigger the spot-check sampler
	SampleBudgetSeconds int    `mapstructure:"sample_budget_seconds"`
	Workers             int    `mapstructure:"workers"`
	WatermarkFile       string `mapstructure:"watermark_file"`
	MetaDir             string `mapstructure:"meta_dir"`
	SourceExt           string `mapstructure:"source_ext"`
	TargetExt           string `mapstructure:"target_ext"`
}

// SamplerConfig holds the spot-check tuning constants.
type SamplerConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	Min               int  `mapstructure:"min"`
	Max               int  `mapstructure:"max"`
	DailyCommitBudget int  `mapstructure:"daily_commit_budget"`
	DrainThreshold    int  `mapstructure:"drain_threshold"`
	MaxProbes         int  `mapstructure:"max_probes"`
	HoleWindowCap     int  `mapstructure:"hole_window_cap"`
	HoleMaxRun        int  `mapstructure:"hole_max_run"`
	HoleCacheFactor   int  `mapstructure:"hole_cache_factor"`
}

// RepoConfig names one HTML/JSON repository pair.
type RepoConfig struct {
	Name   string `mapstructure:"name"`
	Source string `mapstructure:"source"`
	Target string `mapstructure:"target"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Categories) == 0 {
		cfg.Categories = append([]category.Category(nil), category.Defaults...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_concurrency", 4)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "archive.db")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("db.max_idle_conns", 4)
	v.SetDefault("pipeline.lock_timeout_seconds", 10)
	v.SetDefault("pipeline.write_lock_timeout_seconds", 30)
	v.SetDefault("pipeline.sample_budget_seconds", 120)
	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.watermark_file", ".archiver/last_commit")
	v.SetDefault("pipeline.meta_dir", ".archiver")
	v.SetDefault("pipeline.source_ext", ".html")
	v.SetDefault("pipeline.target_ext", ".json")
	v.SetDefault("sampler.enabled", true)
	v.SetDefault("sampler.min", 5)
	v.SetDefault("sampler.max", 50)
	v.SetDefault("sampler.daily_commit_budget", 288)
	v.SetDefault("sampler.drain_threshold", 64)
	v.SetDefault("sampler.max_probes", 1000)
	v.SetDefault("sampler.hole_window_cap", 200)
	v.SetDefault("sampler.hole_max_run", 3)
	v.SetDefault("sampler.hole_cache_factor", 100)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.ReadConcurrency <= 0 {
		return fmt.Errorf("server.read_concurrency must be > 0")
	}
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("db.driver must be sqlite or postgres, got %q", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.WatermarkFile == "" {
		return fmt.Errorf("pipeline.watermark_file must be set")
	}
	if c.Sampler.Min <= 0 || c.Sampler.Max < c.Sampler.Min {
		return fmt.Errorf("sampler bounds must satisfy 0 < min <= max")
	}
	if c.Sampler.DailyCommitBudget <= 0 {
		return fmt.Errorf("sampler.daily_commit_budget must be > 0")
	}
	if _, err := category.NewSet(c.Categories); err != nil {
		return fmt.Errorf("categories: %w", err)
	}

	seen := make(map[string]bool, len(c.Repos))
	for i, r := range c.Repos {
		if r.Name == "" {
			return fmt.Errorf("repos[%d].name must be set", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("repos[%d].name %q is duplicated", i, r.Name)
		}
		seen[r.Name] = true
		if r.Source == "" || r.Target == "" {
			return fmt.Errorf("repos[%d] (%s) needs both source and target", i, r.Name)
		}
	}
	return nil
}

// Repo returns the pair with the given name.
func (c Config) Repo(name string) (RepoConfig, bool) {
	for _, r := range c.Repos {
		if r.Name == name {
			return r, true
		}
	}
	return RepoConfig{}, false
}

// LockTimeout is the per-pair mutex acquisition bound.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.Pipeline.LockTimeoutSeconds) * time.Second
}

// WriteLockTimeout is the global database write lock acquisition bound.
func (c Config) WriteLockTimeout() time.Duration {
	return time.Duration(c.Pipeline.WriteLockTimeoutSeconds) * time.Second
}

// SampleBudget is the wall-clock limit for sampler piggybacking.
func (c Config) SampleBudget() time.Duration {
	return time.Duration(c.Pipeline.SampleBudgetSeconds) * time.Second
}

// RequestTimeout bounds synchronous HTTP handlers.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}
