package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr     string `mapstructure:"addr"`
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"server"`

	Trust struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"trust"`

	Journal struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"journal"`

	Engine struct {
		IntentTimeoutSeconds int `mapstructure:"intent_timeout_seconds"`
		RetryAttempts        int `mapstructure:"retry_attempts"`
		RetryBackoffSeconds  int `mapstructure:"retry_backoff_seconds"`
	} `mapstructure:"engine"`

	Network struct {
		SettleSeconds int `mapstructure:"settle_seconds"`
		EventBuffer   int `mapstructure:"event_buffer"`
	} `mapstructure:"network"`

	Watchdog struct {
		IntervalSeconds int `mapstructure:"interval_seconds"`
	} `mapstructure:"watchdog"`
}

func Load() Config {
	v := viper.New()
	v.SetConfigName("application")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath("/etc/vpn-switcher")
	_ = v.ReadInConfig() // optional; env can fully configure

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Errorf("unable to decode config: %w", err))
	}
	validate(&cfg)
	return cfg
}

func validate(c *Config) {
	if c.Server.Addr == "" { c.Server.Addr = "127.0.0.1:9630" }
	if c.Trust.Path == "" { c.Trust.Path = defaultTrustPath() }
	if c.Journal.Path == "" { c.Journal.Path = defaultJournalPath() }
	if c.Engine.IntentTimeoutSeconds <= 0 { c.Engine.IntentTimeoutSeconds = 30 }
	if c.Engine.RetryAttempts <= 0 { c.Engine.RetryAttempts = 3 }
	if c.Engine.RetryBackoffSeconds <= 0 { c.Engine.RetryBackoffSeconds = 2 }
	if c.Network.SettleSeconds <= 0 { c.Network.SettleSeconds = 5 }
	if c.Network.EventBuffer <= 0 { c.Network.EventBuffer = 64 }
	if c.Watchdog.IntervalSeconds <= 0 { c.Watchdog.IntervalSeconds = 10 }
}

func defaultTrustPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/etc/vpn-switcher/config.yaml"
	}
	return filepath.Join(home, ".config", "vpn-switcher", "config.yaml")
}

func defaultJournalPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/var/lib/vpn-switcher/journal.db"
	}
	return filepath.Join(home, ".local", "share", "vpn-switcher", "journal.db")
}

func (c Config) IntentTimeout() time.Duration {
	return time.Duration(c.Engine.IntentTimeoutSeconds) * time.Second
}

func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Engine.RetryBackoffSeconds) * time.Second
}

func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Network.SettleSeconds) * time.Second
}

func (c Config) WatchdogInterval() time.Duration {
	return time.Duration(c.Watchdog.IntervalSeconds) * time.Second
}
