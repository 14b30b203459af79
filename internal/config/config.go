package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	API       APIConfig       `yaml:"api" mapstructure:"api"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// APIConfig configures the geo API client used by the dashboard.
type APIConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// StoreConfig configures the database backend for the geo API server.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the geo API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// DashboardConfig configures the dashboard shell and its map controller.
type DashboardConfig struct {
	Port                  int `yaml:"port" mapstructure:"port"`
	GeoStalenessSecs      int `yaml:"geo_staleness_secs" mapstructure:"geo_staleness_secs"`
	AreaStalenessSecs     int `yaml:"area_staleness_secs" mapstructure:"area_staleness_secs"`
	SettleDelayMillis     int `yaml:"settle_delay_millis" mapstructure:"settle_delay_millis"`
	TransitionDelayMillis int `yaml:"transition_delay_millis" mapstructure:"transition_delay_millis"`
	SurfaceReadyMillis    int `yaml:"surface_ready_millis" mapstructure:"surface_ready_millis"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the fields required for the given run mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "serve":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "dashboard":
		if c.API.BaseURL == "" {
			problems = append(problems, "api.base_url is required")
		}
		if c.API.TimeoutSecs <= 0 {
			problems = append(problems, "api.timeout_secs must be > 0")
		}
		if c.Dashboard.Port <= 0 {
			problems = append(problems, "dashboard.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEODASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout_secs", 10)
	v.SetDefault("api.rate_limit", 10.0)
	v.SetDefault("api.user_agent", "geodash/1.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("dashboard.geo_staleness_secs", 120)
	v.SetDefault("dashboard.area_staleness_secs", 300)
	v.SetDefault("dashboard.settle_delay_millis", 150)
	v.SetDefault("dashboard.transition_delay_millis", 100)
	v.SetDefault("dashboard.surface_ready_millis", 50)
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
