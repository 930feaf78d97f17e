package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Scenario    string
	EventsOut   string
	PGDSN       string
	RunID       string
	MetricsAddr string
	LogLevel    string
}

// Load merges config file, environment variables, and flags into Config.
// Environment variables use the METAPOOL_ prefix, e.g. METAPOOL_LOG_LEVEL.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("METAPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("scenario", "scenario.yaml")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("metapool")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Scenario:    v.GetString("scenario"),
		EventsOut:   v.GetString("events-out"),
		PGDSN:       v.GetString("pg-dsn"),
		RunID:       v.GetString("run-id"),
		MetricsAddr: v.GetString("metrics-addr"),
		LogLevel:    v.GetString("log-level"),
	}
	if cfg.Scenario == "" {
		return Config{}, fmt.Errorf("scenario path is required")
	}
	return cfg, nil
}
