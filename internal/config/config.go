package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds process-level settings — everything that is not part of a
// compose definition itself. Loaded once at process start.
type Config struct {
	Log   LogConfig   `mapstructure:"log"`
	Audit AuditConfig `mapstructure:"audit"`
}

// LogConfig mirrors pkg/logger.LogConfig; kept separate so config loading
// does not import the logger package.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// AuditConfig configures the audit logger's storage and retention.
type AuditConfig struct {
	DBPath            string        `mapstructure:"db_path"`
	RetentionDays     int           `mapstructure:"retention_days"`
	MaxRecords        int           `mapstructure:"max_records"`
	AutoPruneInterval int           `mapstructure:"auto_prune_interval"`
	FlushInterval     time.Duration `mapstructure:"flush_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")

	v.SetDefault("audit.retention_days", 90)
	v.SetDefault("audit.max_records", 100_000)
	v.SetDefault("audit.auto_prune_interval", 1000)
	v.SetDefault("audit.flush_interval", time.Second)
}

// Load reads process configuration from path (if it exists) layered under
// environment variables (prefix INITRUNNER, "." replaced with "_") and
// built-in defaults, matching the env > file > defaults precedence the
// teacher's loader uses.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("INITRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Audit.DBPath == "" {
		dbPath, err := DefaultAuditDBPath()
		if err != nil {
			return nil, fmt.Errorf("resolve default audit db path: %w", err)
		}
		cfg.Audit.DBPath = dbPath
	}

	return &cfg, nil
}
