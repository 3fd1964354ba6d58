package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type AudioConfig struct {
	EchoCancellation bool          `mapstructure:"echo_cancellation"`
	NoiseSuppression bool          `mapstructure:"noise_suppression"`
	AutoGainControl  bool          `mapstructure:"auto_gain_control"`
	InputDeviceID    string        `mapstructure:"input_device_id"`
	VoiceThreshold   float64       `mapstructure:"voice_threshold"`
	VadInterval      time.Duration `mapstructure:"vad_interval"`
}

type Config struct {
	Mode      string        `mapstructure:"mode"`
	Port      int           `mapstructure:"port"`
	ServerURL string        `mapstructure:"server_url"`
	ReadLimit int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret    string        `mapstructure:"secret"`
	Room      string        `mapstructure:"room"`
	Name      string        `mapstructure:"name"`
	Avatar    string        `mapstructure:"avatar"`
	Audio     AudioConfig   `mapstructure:"audio"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 3001)
	v.SetDefault("server_url", "ws://127.0.0.1:3001/ws")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("room", "general")
	v.SetDefault("name", "guest")
	v.SetDefault("audio.echo_cancellation", true)
	v.SetDefault("audio.noise_suppression", true)
	v.SetDefault("audio.auto_gain_control", true)
	v.SetDefault("audio.voice_threshold", 12)
	v.SetDefault("audio.vad_interval", "80ms")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
