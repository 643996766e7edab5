package config

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Channel ChannelConfig `mapstructure:"channel"`
	Chat    ChatConfig    `mapstructure:"chat"`
}

type APIConfig struct {
	BaseURL string `mapstructure:"baseURL"`
	Token   string `mapstructure:"token"`
}

type ChannelConfig struct {
	BaseURL string `mapstructure:"baseURL"`
}

type ChatConfig struct {
	HistoryLimit int           `mapstructure:"historyLimit"`
	TypingExpiry time.Duration `mapstructure:"typingExpiry"`
}

// Load reads configuration from a file and environment variables.
func Load(logger *zerolog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	v.SetDefault("api.baseURL", "http://localhost:8000")
	v.SetDefault("channel.baseURL", "ws://localhost:8000")
	v.SetDefault("chat.historyLimit", 50)
	v.SetDefault("chat.typingExpiry", "3s")

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		logger.Warn().Msg("config file not found, relying on defaults and env vars")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
