// Package config loads server settings from defaults, an optional YAML file
// and STAGE_REMOTE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/vmorsell/stage-remote/internal/ratelimit"
)

const EnvPrefix = "STAGE_REMOTE"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Commands CommandsConfig `mapstructure:"commands"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// WSPort defaults to Port+1 when zero.
	WSPort int `mapstructure:"ws_port"`
}

type GatewayConfig struct {
	BroadcastCapacity int           `mapstructure:"broadcast_capacity"`
	SendQueueSize     int           `mapstructure:"send_queue_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	WriteWait         time.Duration `mapstructure:"write_wait"`
	PongWait          time.Duration `mapstructure:"pong_wait"`
}

type CommandsConfig struct {
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// WebSocketPort resolves the port the Gateway listens on. With Port 0 both
// listeners pick ephemeral ports.
func (c ServerConfig) WebSocketPort() int {
	if c.WSPort != 0 || c.Port == 0 {
		return c.WSPort
	}
	return c.Port + 1
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8765,
		},
		Gateway: GatewayConfig{
			BroadcastCapacity: 32,
			SendQueueSize:     256,
			MaxMessageSize:    64 * 1024,
			WriteWait:         10 * time.Second,
			PongWait:          60 * time.Second,
		},
		Commands: CommandsConfig{
			RateLimit:  ratelimit.DefaultCommandLimit,
			RateWindow: ratelimit.DefaultWindowSize,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// New returns a viper instance with defaults and environment binding set up.
// Callers may bind flags on it before passing it to Load.
func New() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.ws_port", d.Server.WSPort)
	v.SetDefault("gateway.broadcast_capacity", d.Gateway.BroadcastCapacity)
	v.SetDefault("gateway.send_queue_size", d.Gateway.SendQueueSize)
	v.SetDefault("gateway.max_message_size", d.Gateway.MaxMessageSize)
	v.SetDefault("gateway.write_wait", d.Gateway.WriteWait)
	v.SetDefault("gateway.pong_wait", d.Gateway.PongWait)
	v.SetDefault("commands.rate_limit", d.Commands.RateLimit)
	v.SetDefault("commands.rate_window", d.Commands.RateWindow)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty) into v and decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	ws := c.Server.WebSocketPort()
	if ws < 0 || ws > 65535 {
		return fmt.Errorf("invalid websocket port %d", ws)
	}
	if c.Server.Port != 0 && ws == c.Server.Port {
		return fmt.Errorf("server.ws_port must differ from server.port (%d)", c.Server.Port)
	}
	if c.Gateway.SendQueueSize <= 0 {
		return fmt.Errorf("gateway.send_queue_size must be positive")
	}
	if c.Gateway.BroadcastCapacity <= 0 {
		return fmt.Errorf("gateway.broadcast_capacity must be positive")
	}
	return nil
}
