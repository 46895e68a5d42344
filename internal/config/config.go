package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Dir             string        `mapstructure:"-"`
	DaemonPort      int           `mapstructure:"daemon_port"`
	DBPath          string        `mapstructure:"db_path"`
	Delay           time.Duration `mapstructure:"delay"`
	MaxSyncStep     int           `mapstructure:"max_sync_step"`
	LimitPending    int           `mapstructure:"limit_pending"`
	ErrorSkipPeriod time.Duration `mapstructure:"error_skip_period"`
	NagInterval     time.Duration `mapstructure:"nag_interval"`
	RecentFiles     int           `mapstructure:"recent_files_count"`
	DigestAlgorithm string        `mapstructure:"digest_algorithm"`
	MaxChanges      int           `mapstructure:"max_changes"`
	IgnoreList      []string      `mapstructure:"ignore_list"`
	WatchLocal      bool          `mapstructure:"watch_local"`
	LogFile         string        `mapstructure:"log_file"`
	LogMaxSizeMB    int           `mapstructure:"log_max_size_mb"`
	LogMaxBackups   int           `mapstructure:"log_max_backups"`
	LogMaxAgeDays   int           `mapstructure:"log_max_age_days"`
}

var Default = Config{
	DaemonPort:      9101,
	DBPath:          "docsync.db",
	Delay:           10 * time.Second,
	MaxSyncStep:     10,
	LimitPending:    100,
	ErrorSkipPeriod: 5 * time.Minute,
	NagInterval:     time.Hour,
	RecentFiles:     20,
	DigestAlgorithm: "md5",
	MaxChanges:      1000,
	IgnoreList:      []string{".DS_Store", "*.tmp", "*.swp", "*.part", "~$*"},
	WatchLocal:      true,
	LogFile:         "docsync.log",
	LogMaxSizeMB:    10,
	LogMaxBackups:   3,
	LogMaxAgeDays:   28,
}

// DefaultDir is $DOCSYNC_HOME or ~/.docsync.
func DefaultDir() (string, error) {
	if dir := os.Getenv("DOCSYNC_HOME"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}

	return filepath.Join(home, ".docsync"), nil
}

// Load reads config.yaml from dir. An empty dir means DefaultDir.
func Load(dir string) (*Config, error) {
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetDefault("daemon_port", Default.DaemonPort)
	v.SetDefault("db_path", Default.DBPath)
	v.SetDefault("delay", Default.Delay)
	v.SetDefault("max_sync_step", Default.MaxSyncStep)
	v.SetDefault("limit_pending", Default.LimitPending)
	v.SetDefault("error_skip_period", Default.ErrorSkipPeriod)
	v.SetDefault("nag_interval", Default.NagInterval)
	v.SetDefault("recent_files_count", Default.RecentFiles)
	v.SetDefault("digest_algorithm", Default.DigestAlgorithm)
	v.SetDefault("max_changes", Default.MaxChanges)
	v.SetDefault("ignore_list", Default.IgnoreList)
	v.SetDefault("watch_local", Default.WatchLocal)
	v.SetDefault("log_file", Default.LogFile)
	v.SetDefault("log_max_size_mb", Default.LogMaxSizeMB)
	v.SetDefault("log_max_backups", Default.LogMaxBackups)
	v.SetDefault("log_max_age_days", Default.LogMaxAgeDays)

	v.SetEnvPrefix("DOCSYNC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := errors.AsType[viper.ConfigFileNotFoundError](err); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Dir = dir
	cfg.DBPath = cfg.resolve(cfg.DBPath)
	if cfg.LogFile != "" {
		cfg.LogFile = cfg.resolve(cfg.LogFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.MaxSyncStep <= 0:
		return fmt.Errorf("max_sync_step must be positive, got %d", c.MaxSyncStep)
	case c.LimitPending <= 0:
		return fmt.Errorf("limit_pending must be positive, got %d", c.LimitPending)
	case c.Delay <= 0:
		return fmt.Errorf("delay must be positive, got %s", c.Delay)
	case c.ErrorSkipPeriod < 0:
		return fmt.Errorf("error_skip_period must not be negative, got %s", c.ErrorSkipPeriod)
	case c.MaxChanges <= 0:
		return fmt.Errorf("max_changes must be positive, got %d", c.MaxChanges)
	}

	// local digests are compared with the md5Checksum Drive reports
	if c.DigestAlgorithm != "md5" {
		return fmt.Errorf("unsupported digest_algorithm %q, the remote reports md5", c.DigestAlgorithm)
	}

	return nil
}

// PidFile, LockFile and StopMarker live next to the state database.
func (c *Config) PidFile() string {
	return filepath.Join(c.Dir, "docsync_sync.pid")
}

func (c *Config) LockFile() string {
	return filepath.Join(c.Dir, "docsync_sync.lock")
}

func (c *Config) StopMarker(pid int) string {
	return filepath.Join(c.Dir, fmt.Sprintf("stop_%d", pid))
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(c.Dir, p)
}
