package config

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode               string        `mapstructure:"mode"`
	Port               int           `mapstructure:"port"`
	Secret             string        `mapstructure:"secret"`
	RoomCapacity       int           `mapstructure:"room_capacity"`
	ReadLimit          int64         `mapstructure:"read_limit"`
	PingPeriod         time.Duration `mapstructure:"ping_period"`
	PongTimeout        time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	JoinRateLimit      int           `mapstructure:"join_rate_limit"`
	JoinRateInterval   time.Duration `mapstructure:"join_rate_interval"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	STUNServers        []string      `mapstructure:"stun_servers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("room_capacity", 5)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_timeout", "60s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("join_rate_limit", 10)
	v.SetDefault("join_rate_interval", "1m")
	v.SetDefault("negotiation_timeout", "2m")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
}

// Load reads config/config.<env>.yaml selected by CONFIG_ENV, falling back to
// defaults when the file is absent.
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

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	return parse(v)
}

func parse(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.RoomCapacity <= 0 {
		return nil, fmt.Errorf("room_capacity must be positive, got %d", cfg.RoomCapacity)
	}
	if cfg.PingPeriod >= cfg.PongTimeout {
		return nil, fmt.Errorf("ping_period (%s) must be below pong_timeout (%s)", cfg.PingPeriod, cfg.PongTimeout)
	}
	return &cfg, nil
}
