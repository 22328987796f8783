// Package config loads service configuration from an optional YAML file,
// environment variables with the ARGUS_ prefix, and built-in defaults.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ListenerConfig holds the network settings for one ingest listener.
type ListenerConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	RateLimit int    `mapstructure:"rate_limit"` // events per second, 0 = unlimited
}

// Config holds all configuration for the service.
type Config struct {
	Listeners struct {
		Syslog  ListenerConfig `mapstructure:"syslog"`
		Auth    ListenerConfig `mapstructure:"auth"`
		Windows ListenerConfig `mapstructure:"windows"`
	} `mapstructure:"listeners"`

	API struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	} `mapstructure:"api"`

	Engine struct {
		ChannelBuffer int           `mapstructure:"channel_buffer"`
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
		StateMaxAge   time.Duration `mapstructure:"state_max_age"`
	} `mapstructure:"engine"`

	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`

	Retention struct {
		EventMaxAge time.Duration `mapstructure:"event_max_age"`
		AlertMaxAge time.Duration `mapstructure:"alert_max_age"`
		Interval    time.Duration `mapstructure:"interval"`
	} `mapstructure:"retention"`

	Rules struct {
		// File is an optional external rule file (JSON or YAML) loaded in
		// addition to the embedded defaults.
		File string `mapstructure:"file"`
	} `mapstructure:"rules"`

	Logging struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"logging"`
}

// APIAddr returns the listen address for the HTTP API.
func (c *Config) APIAddr() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}

// LoadConfig reads configuration from config.yaml (working directory or
// ./config), ARGUS_* environment variables, and defaults, in that order of
// precedence from highest to lowest: env, file, defaults.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("ARGUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; defaults and env vars still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listeners.syslog.enabled", true)
	v.SetDefault("listeners.syslog.host", "0.0.0.0")
	v.SetDefault("listeners.syslog.port", 5514)
	v.SetDefault("listeners.syslog.rate_limit", 1000)
	v.SetDefault("listeners.auth.enabled", true)
	v.SetDefault("listeners.auth.host", "0.0.0.0")
	v.SetDefault("listeners.auth.port", 5515)
	v.SetDefault("listeners.auth.rate_limit", 1000)
	v.SetDefault("listeners.windows.enabled", true)
	v.SetDefault("listeners.windows.host", "0.0.0.0")
	v.SetDefault("listeners.windows.port", 5516)
	v.SetDefault("listeners.windows.rate_limit", 1000)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	v.SetDefault("engine.channel_buffer", 10000)
	v.SetDefault("engine.sweep_interval", time.Minute)
	v.SetDefault("engine.state_max_age", 10*time.Minute)

	v.SetDefault("database.path", "./data/argus.db")

	v.SetDefault("retention.event_max_age", 30*24*time.Hour)
	v.SetDefault("retention.alert_max_age", 90*24*time.Hour)
	v.SetDefault("retention.interval", time.Hour)

	v.SetDefault("rules.file", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

func validate(c *Config) error {
	ports := map[int]string{}
	for _, l := range []struct {
		name string
		cfg  ListenerConfig
	}{
		{"syslog", c.Listeners.Syslog},
		{"auth", c.Listeners.Auth},
		{"windows", c.Listeners.Windows},
	} {
		if !l.cfg.Enabled {
			continue
		}
		if l.cfg.Port < 1 || l.cfg.Port > 65535 {
			return fmt.Errorf("invalid %s listener port %d", l.name, l.cfg.Port)
		}
		if other, taken := ports[l.cfg.Port]; taken {
			return fmt.Errorf("%s listener port %d already used by %s listener", l.name, l.cfg.Port, other)
		}
		ports[l.cfg.Port] = l.name
		if l.cfg.RateLimit < 0 {
			return fmt.Errorf("invalid %s listener rate limit %d", l.name, l.cfg.RateLimit)
		}
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("invalid API port %d", c.API.Port)
	}
	if c.Engine.ChannelBuffer < 1 {
		return fmt.Errorf("engine channel buffer must be positive, got %d", c.Engine.ChannelBuffer)
	}
	if c.Engine.SweepInterval <= 0 || c.Engine.StateMaxAge <= 0 {
		return fmt.Errorf("engine sweep interval and state max age must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path must not be empty")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}

	return nil
}
