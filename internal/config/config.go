// Package config resolves settings for the oracle and the ingestion daemon.
// Resolution order: CLI flag, then environment variable, then the local TOML
// file, then XDG user config, then system config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// OracleConfig holds the oracle server's settings.
type OracleConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	DataDir               string `mapstructure:"data_dir"`
	EventDB               string `mapstructure:"event_db"`
	PrivateKeyPath        string `mapstructure:"private_key_path"`
	UIDir                 string `mapstructure:"ui_dir"`
	LogLevel              string `mapstructure:"log_level"`
	SnapshotRetentionDays int    `mapstructure:"snapshot_retention_days"`
}

func (c *OracleConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DaemonConfig holds the ingestion daemon's settings.
type DaemonConfig struct {
	BaseURL              string `mapstructure:"base_url"`
	DataDir              string `mapstructure:"data_dir"`
	SleepIntervalSeconds int    `mapstructure:"sleep_interval"`
	LogLevel             string `mapstructure:"log_level"`
	ObservationsEndpoint string `mapstructure:"observations_endpoint"`
	ForecastsEndpoint    string `mapstructure:"forecasts_endpoint"`
	RetentionDays        int    `mapstructure:"retention_days"`
}

func newViper(name, envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	if xdg, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(xdg, "skycommit"))
	}
	v.AddConfigPath("/etc/skycommit")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return v
}

func readIn(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; env vars and flags may carry everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// LoadOracle reads oracle configuration. Overrides (from CLI flags) are
// applied last and win over every other source.
func LoadOracle(overrides map[string]any) (*OracleConfig, error) {
	v := newViper("oracle", "SKYCOMMIT_ORACLE")

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 9100)
	v.SetDefault("log_level", "info")
	v.SetDefault("snapshot_retention_days", 30)

	if err := readIn(v); err != nil {
		return nil, err
	}
	for key, val := range overrides {
		v.Set(key, val)
	}

	var cfg OracleConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal oracle config: %w", err)
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required")
	}
	if cfg.EventDB == "" {
		return nil, fmt.Errorf("event_db is required")
	}
	if cfg.PrivateKeyPath == "" {
		return nil, fmt.Errorf("private_key_path is required")
	}
	return &cfg, nil
}

// LoadDaemon reads daemon configuration with the same precedence.
func LoadDaemon(overrides map[string]any) (*DaemonConfig, error) {
	v := newViper("daemon", "SKYCOMMIT_DAEMON")

	v.SetDefault("sleep_interval", 3600)
	v.SetDefault("log_level", "info")
	v.SetDefault("retention_days", 30)
	v.SetDefault("observations_endpoint", "https://aviationweather.gov/api/data/metar?format=json")
	v.SetDefault("forecasts_endpoint", "https://aviationweather.gov/api/data/taf?format=json")

	if err := readIn(v); err != nil {
		return nil, err
	}
	for key, val := range overrides {
		v.Set(key, val)
	}

	var cfg DaemonConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal daemon config: %w", err)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required")
	}
	return &cfg, nil
}
