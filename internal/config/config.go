// Package config loads the service configuration from file and environment
// and initializes the global logger.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/stockledger/internal/source"
	"github.com/sells-group/stockledger/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Source SourceConfig `yaml:"source" mapstructure:"source"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"` // postgres | sqlite
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string           `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// SourceConfig configures the drop-folder watcher.
type SourceConfig struct {
	Mode             string        `yaml:"mode" mapstructure:"mode"` // dir | ftp
	Dir              string        `yaml:"dir" mapstructure:"dir"`
	FTPAddr          string        `yaml:"ftp_addr" mapstructure:"ftp_addr"`
	FTPUser          string        `yaml:"ftp_user" mapstructure:"ftp_user"`
	FTPPassword      string        `yaml:"ftp_password" mapstructure:"ftp_password"`
	FTPDir           string        `yaml:"ftp_dir" mapstructure:"ftp_dir"`
	PollInterval     time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	Rules            []source.Rule `yaml:"rules" mapstructure:"rules"`
	InventoryCountKw []string      `yaml:"inventory_count_keywords" mapstructure:"inventory_count_keywords"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("STOCKLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "stockledger.db")
	v.SetDefault("source.mode", "dir")
	v.SetDefault("source.dir", "incoming")
	v.SetDefault("source.poll_interval", "30s")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the fields the given run mode needs. Modes map to the CLI
// commands that open a store or a source.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			problems = append(problems, "store.sqlite_path is required for the sqlite driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "watch":
		switch c.Source.Mode {
		case "dir":
			if c.Source.Dir == "" {
				problems = append(problems, "source.dir is required for dir mode")
			}
		case "ftp":
			if c.Source.FTPAddr == "" {
				problems = append(problems, "source.ftp_addr is required for ftp mode")
			}
		default:
			problems = append(problems, fmt.Sprintf("source.mode must be dir or ftp, got %q", c.Source.Mode))
		}
		if len(c.Source.Rules) == 0 {
			problems = append(problems, "source.rules must not be empty")
		}
		if c.Source.PollInterval <= 0 {
			problems = append(problems, "source.poll_interval must be > 0")
		}
	case "ingest", "migrate", "rows", "reconcile":
		// Store checks above are enough.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
