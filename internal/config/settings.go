package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/quieloop/sonus/pkg/audio"
)

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Pass string `mapstructure:"pass"`
	DB   int    `mapstructure:"db"`
}

type MachineConfig struct {
	QueueSize        int `mapstructure:"queue_size"`
	MaxFailureStreak int `mapstructure:"max_failure_streak"`
}

type TimeSyncConfig struct {
	Server  string        `mapstructure:"server"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type XiaozhiConfig struct {
	OTAURL       string `mapstructure:"ota_url"`
	WebsocketURL string `mapstructure:"websocket_url"`
	DeviceID     string `mapstructure:"device_id"`
	ClientID     string `mapstructure:"client_id"`
}

type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	Prompt string `mapstructure:"prompt"`
}

type AgentsConfig struct {
	Xiaozhi XiaozhiConfig `mapstructure:"xiaozhi"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
}

type Settings struct {
	Env         string         `mapstructure:"env"`
	Debug       bool           `mapstructure:"debug"`
	ActiveAgent string         `mapstructure:"active_agent"`
	ChatMode    string         `mapstructure:"chat_mode"`
	Server      ServerConfig   `mapstructure:"server"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Machine     MachineConfig  `mapstructure:"machine"`
	TimeSync    TimeSyncConfig `mapstructure:"time_sync"`
	Audio       audio.Config   `mapstructure:"audio"`
	Agents      AgentsConfig   `mapstructure:"agents"`
}

func Load() (*Settings, error) {
	viper.SetConfigName("config_" + genEnv())
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if settings.Audio == (audio.Config{}) {
		settings.Audio = audio.DefaultConfig()
	}
	if settings.Server.Addr == "" {
		settings.Server.Addr = ":8080"
	}

	return &settings, nil
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
