package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Presence PresenceConfig `mapstructure:"presence"`
	Offline  OfflineConfig  `mapstructure:"offline"`
	Creds    CredsConfig    `mapstructure:"creds"`
	Mock     MockConfig     `mapstructure:"mock"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	AccessCode     string        `mapstructure:"access_code"`
	UserAgent      string        `mapstructure:"user_agent"`
}

type PresenceConfig struct {
	URL                string        `mapstructure:"url"`
	MaxReconnects      int           `mapstructure:"max_reconnects"`
	ReconnectBaseDelay time.Duration `mapstructure:"reconnect_base_delay"`
	HandshakeTimeout   time.Duration `mapstructure:"handshake_timeout"`
}

type OfflineConfig struct {
	Path string `mapstructure:"path"`
}

type CredsConfig struct {
	Path string `mapstructure:"path"`
}

type MockConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("cafe")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/cafe")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CAFE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("api.base_url", "https://api.halext.org")
	viper.SetDefault("api.timeout", 30*time.Second)
	viper.SetDefault("api.max_retries", 3)
	viper.SetDefault("api.retry_base_delay", 1*time.Second)
	viper.SetDefault("api.user_agent", "cafe-go/0.1")

	viper.SetDefault("presence.url", "wss://api.halext.org/api/v1/presence")
	viper.SetDefault("presence.max_reconnects", 5)
	viper.SetDefault("presence.reconnect_base_delay", 1*time.Second)
	viper.SetDefault("presence.handshake_timeout", 10*time.Second)

	viper.SetDefault("offline.path", "./data/cafe-offline.db")
	viper.SetDefault("creds.path", "./data/cafe-token")

	viper.SetDefault("mock.host", "127.0.0.1")
	viper.SetDefault("mock.port", 8420)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
}
