package config

import (
	"time"

	"github.com/spf13/viper"
)

// LockConfig holds configuration for the workspace lock.
type LockConfig struct {
	TTLSeconds     int `mapstructure:"ttl_seconds"`
	MaxWaitSeconds int `mapstructure:"max_wait_seconds"`
	RenewalSeconds int `mapstructure:"renewal_seconds"`
}

// Config holds all runtime configuration for a loom run.
// Values are populated from .loom.yaml, LOOM_* env vars, and CLI flags.
type Config struct {
	WorkDir             string     `mapstructure:"work_dir"`
	Manifest            string     `mapstructure:"manifest"`
	Strict              bool       `mapstructure:"strict"`
	Parallelism         int        `mapstructure:"parallelism"`
	StageTimeoutSeconds int        `mapstructure:"stage_timeout_seconds"`
	Verbose             bool       `mapstructure:"verbose"`
	Lock                LockConfig `mapstructure:"lock"`
}

// StageTimeout returns the per-stage timeout as a duration. Zero means
// no timeout.
func (c Config) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutSeconds) * time.Second
}

// LockTTL returns how long an acquired lock remains valid before another
// process may take it over as stale.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

// LockMaxWait returns how long a run will wait for a contended lock before
// giving up.
func (c Config) LockMaxWait() time.Duration {
	return time.Duration(c.Lock.MaxWaitSeconds) * time.Second
}

// LockRenewal returns the interval at which a held lock is renewed.
func (c Config) LockRenewal() time.Duration {
	return time.Duration(c.Lock.RenewalSeconds) * time.Second
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() Config {
	viper.SetDefault("work_dir", ".")
	viper.SetDefault("manifest", "loom.toml")
	viper.SetDefault("strict", false)
	viper.SetDefault("parallelism", 4)
	viper.SetDefault("stage_timeout_seconds", 120)
	viper.SetDefault("verbose", false)
	viper.SetDefault("lock.ttl_seconds", 300)
	viper.SetDefault("lock.max_wait_seconds", 30)
	viper.SetDefault("lock.renewal_seconds", 60)

	var cfg Config
	_ = viper.Unmarshal(&cfg)
	return cfg
}
